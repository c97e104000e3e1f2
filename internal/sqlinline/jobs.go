package sqlinline

const QCreateInferenceJobsTable = `--sql 67dfa191-29ab-42da-8447-b60fa0dd193a
create table if not exists inference_jobs (
  job_id text primary key,
  subject text not null default '',
  status text not null,
  input_location text not null,
  output_location text not null,
  failure_location text not null,
  created_at timestamptz not null default now(),
  updated_at timestamptz not null default now()
);
`

const QCreateInferenceJobsOpenIndex = `--sql daf9bb65-4f71-437d-88be-b9d8cbbe7d7f
create index if not exists inference_jobs_open_idx
  on inference_jobs (updated_at)
  where status in ('submitted', 'pending');
`

const QInsertInferenceJob = `--sql 04d39b10-8d6e-484d-9617-3d7a8df0161a
insert into inference_jobs(
  job_id,
  subject,
  status,
  input_location,
  output_location,
  failure_location,
  created_at,
  updated_at
) values (
  $1::text,
  $2::text,
  $3::text,
  $4::text,
  $5::text,
  $6::text,
  $7::timestamptz,
  $7::timestamptz
)
on conflict (job_id) do nothing;
`

const QSelectInferenceJob = `--sql 8a49880b-850a-4b9c-bd37-8c9c831ed490
select job_id, subject, status, input_location, output_location, failure_location, created_at, updated_at
from inference_jobs
where job_id = $1::text
limit 1;
`

// QAdvanceInferenceJob only updates rows whose current status is one of the
// allowed predecessors passed in $3.
const QAdvanceInferenceJob = `--sql d0c847c6-88b6-4b18-b6a9-03ee2dd9e970
update inference_jobs
set status = $2::text, updated_at = now()
where job_id = $1::text
  and status = any($3::text[])
returning job_id, subject, status, input_location, output_location, failure_location, created_at, updated_at;
`

const QListOpenInferenceJobs = `--sql 9a160b8c-8b16-40f4-86e1-9cf4644c41ec
select job_id, subject, status, input_location, output_location, failure_location, created_at, updated_at
from inference_jobs
where status in ('submitted', 'pending')
order by updated_at asc
limit $1::int;
`

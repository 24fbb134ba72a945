package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v4"
	kpool "github.com/opst/knitpipe/pkg/conn/db/postgres/pool"
	"github.com/opst/knitpipe/pkg/conn/db/postgres/scanner"
	"github.com/opst/knitpipe/pkg/domain"
	pgerrors "github.com/opst/knitpipe/pkg/domain/errors/dberrors/postgres"
	kdb "github.com/opst/knitpipe/pkg/domain/task/db"
	xe "github.com/opst/knitpipe/pkg/errors"
	"github.com/opst/knitpipe/pkg/utils"
)

type pgTask struct {
	pool kpool.Pool
}

func New(pool kpool.Pool) kdb.TaskInterface {
	return &pgTask{pool: pool}
}

const taskColumns = `
	"task_id", "name", "queue_name", "payload", "status"::text as "status",
	"attempts", "max_attempts", "run_after", "locked_until", "last_error", "created_at"
	`

type taskRow struct {
	TaskId      string `sql:"task_id"`
	Name        string
	QueueName   string
	Payload     []byte
	Status      string
	Attempts    int
	MaxAttempts int
	RunAfter    time.Time
	LockedUntil *time.Time
	LastError   string
	CreatedAt   time.Time
}

func (r taskRow) toDomain() (domain.Task, error) {
	status, err := domain.AsTaskStatus(r.Status)
	if err != nil {
		return domain.Task{}, err
	}
	return domain.Task{
		Id:          r.TaskId,
		Name:        domain.TaskName(r.Name),
		QueueName:   r.QueueName,
		Payload:     json.RawMessage(r.Payload),
		Status:      status,
		Attempts:    r.Attempts,
		MaxAttempts: r.MaxAttempts,
		RunAfter:    r.RunAfter,
		LockedUntil: r.LockedUntil,
		LastError:   r.LastError,
		CreatedAt:   r.CreatedAt,
	}, nil
}

func queryTasks(ctx context.Context, conn kpool.Queryer, query string, params ...any) ([]domain.Task, error) {
	rows, err := scanner.New[taskRow]().QueryAll(ctx, conn, query, params...)
	if err != nil {
		return nil, xe.Wrap(err)
	}
	return utils.MapUntilError(rows, taskRow.toDomain)
}

func (m *pgTask) Enqueue(ctx context.Context, jobs ...domain.Job) ([]domain.Task, error) {
	if len(jobs) == 0 {
		return []domain.Task{}, nil
	}

	tx, err := m.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, xe.Wrap(err)
	}
	defer tx.Rollback(ctx)

	enqueued := make([]domain.Task, 0, len(jobs))
	for _, j := range jobs {
		payload, err := json.Marshal(j)
		if err != nil {
			return nil, xe.Wrap(err)
		}
		id := uuid.NewString()
		queue := j.QueueName()
		if queue == "" {
			queue = id
		}

		tasks, err := queryTasks(
			ctx, tx,
			`
			insert into "task" ("task_id", "name", "queue_name", "payload")
			select $1::uuid, $2::varchar, $3::varchar, $4::jsonb
			where not exists (
				select 1 from "task"
				where "status" = 'WAITING'
					and "name" = $2 and "queue_name" = $3 and "payload" = $4::jsonb
			)
			returning `+taskColumns,
			id, string(j.TaskName()), queue, string(payload),
		)
		if err != nil {
			return nil, err
		}
		enqueued = append(enqueued, tasks...)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, xe.Wrap(err)
	}
	return enqueued, nil
}

// claimCandidates is the number of tasks examined by one Claim.
const claimCandidates = 16

func (m *pgTask) Claim(ctx context.Context, visibility time.Duration) (domain.Task, bool, error) {
	tx, err := m.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return domain.Task{}, false, xe.Wrap(err)
	}
	defer tx.Rollback(ctx)

	type candidate struct {
		TaskId    string `sql:"task_id"`
		QueueName string
	}
	candidates, err := scanner.New[candidate]().QueryAll(
		ctx, tx,
		`
		select "t"."task_id", "t"."queue_name"
		from "task" as "t"
		where (
				("t"."status" = 'WAITING' and "t"."run_after" <= now())
				or ("t"."status" = 'RUNNING' and "t"."locked_until" < now())
			)
			and "t"."attempts" < "t"."max_attempts"
			and not exists (
				select 1 from "task" as "r"
				where "r"."queue_name" = "t"."queue_name" and "r"."task_id" <> "t"."task_id"
					and "r"."status" = 'RUNNING' and now() <= "r"."locked_until"
			)
		order by "t"."run_after", "t"."created_at"
		limit $1
		for update of "t" skip locked
		`,
		claimCandidates,
	)
	if err != nil {
		return domain.Task{}, false, xe.Wrap(err)
	}

	for _, c := range candidates {
		// the queue lock is held until the end of this transaction,
		// and statements after it see tasks claimed by the others.
		var locked bool
		if err := tx.QueryRow(
			ctx, `select pg_try_advisory_xact_lock(hashtext('task_queue:' || $1::text))`, c.QueueName,
		).Scan(&locked); err != nil {
			return domain.Task{}, false, xe.Wrap(err)
		}
		if !locked {
			continue
		}
		var busy bool
		if err := tx.QueryRow(
			ctx,
			`
			select exists (
				select 1 from "task"
				where "queue_name" = $1 and "task_id" <> $2
					and "status" = 'RUNNING' and clock_timestamp() <= "locked_until"
			)
			`,
			c.QueueName, c.TaskId,
		).Scan(&busy); err != nil {
			return domain.Task{}, false, xe.Wrap(err)
		}
		if busy {
			continue
		}

		tasks, err := queryTasks(
			ctx, tx,
			`
			update "task"
			set "status" = 'RUNNING', "attempts" = "attempts" + 1,
				"locked_until" = clock_timestamp() + $2::bigint * interval '1 millisecond',
				"updated_at" = now()
			where "task_id" = $1
			returning `+taskColumns,
			c.TaskId, visibility.Milliseconds(),
		)
		if err != nil {
			return domain.Task{}, false, err
		}
		if len(tasks) == 0 {
			continue
		}
		if err := tx.Commit(ctx); err != nil {
			return domain.Task{}, false, xe.Wrap(err)
		}
		return tasks[0], true, nil
	}

	return domain.Task{}, false, nil
}

func (m *pgTask) Done(ctx context.Context, taskId string) error {
	ctag, err := m.pool.Exec(
		ctx,
		`
		update "task" set "status" = 'DONE', "locked_until" = null, "updated_at" = now()
		where "task_id" = $1 and "status" = 'RUNNING'
		`,
		taskId,
	)
	if err != nil {
		return xe.Wrap(err)
	}
	if ctag.RowsAffected() == 0 {
		return xe.Wrap(pgerrors.Missing{Table: "task", Identity: fmt.Sprintf("task_id=%s, status=RUNNING", taskId)})
	}
	return nil
}

func (m *pgTask) Fail(ctx context.Context, taskId string, reason string, retryAfter time.Duration) error {
	ctag, err := m.pool.Exec(
		ctx,
		`
		update "task"
		set
			"status" = case when "max_attempts" <= "attempts" then 'FAILED'::"task_status" else 'WAITING'::"task_status" end,
			"last_error" = $2,
			"run_after" = now() + $3::bigint * interval '1 millisecond',
			"locked_until" = null,
			"updated_at" = now()
		where "task_id" = $1 and "status" = 'RUNNING'
		`,
		taskId, reason, retryAfter.Milliseconds(),
	)
	if err != nil {
		return xe.Wrap(err)
	}
	if ctag.RowsAffected() == 0 {
		return xe.Wrap(pgerrors.Missing{Table: "task", Identity: fmt.Sprintf("task_id=%s, status=RUNNING", taskId)})
	}
	return nil
}

func (m *pgTask) Release(ctx context.Context) (int, error) {
	ctag, err := m.pool.Exec(
		ctx,
		`
		update "task"
		set
			"status" = case when "max_attempts" <= "attempts" then 'FAILED'::"task_status" else 'WAITING'::"task_status" end,
			"last_error" = 'visibility timeout is over',
			"locked_until" = null,
			"updated_at" = now()
		where "status" = 'RUNNING' and "locked_until" < now()
		`,
	)
	if err != nil {
		return 0, xe.Wrap(err)
	}
	return int(ctag.RowsAffected()), nil
}

func (m *pgTask) Get(ctx context.Context, taskId string) (domain.Task, error) {
	if _, err := uuid.Parse(taskId); err != nil {
		return domain.Task{}, xe.Wrap(pgerrors.Missing{Table: "task", Identity: "task_id=" + taskId})
	}
	tasks, err := queryTasks(ctx, m.pool, `select`+taskColumns+`from "task" where "task_id" = $1`, taskId)
	if err != nil {
		return domain.Task{}, err
	}
	if len(tasks) == 0 {
		return domain.Task{}, xe.Wrap(pgerrors.Missing{Table: "task", Identity: "task_id=" + taskId})
	}
	return tasks[0], nil
}

func (m *pgTask) Counts(ctx context.Context) (map[domain.TaskStatus]int, error) {
	type countRow struct {
		Status string
		Count  int
	}
	rows, err := scanner.New[countRow]().QueryAll(
		ctx, m.pool, `select "status"::text as "status", count(*) as "count" from "task" group by "status"`,
	)
	if err != nil {
		return nil, xe.Wrap(err)
	}
	ret := map[domain.TaskStatus]int{
		domain.TaskWaiting: 0, domain.TaskRunning: 0, domain.TaskDone: 0, domain.TaskFailed: 0,
	}
	for _, r := range rows {
		st, err := domain.AsTaskStatus(r.Status)
		if err != nil {
			return nil, err
		}
		ret[st] = r.Count
	}
	return ret, nil
}

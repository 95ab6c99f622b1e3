//go:build integration

package postgres_test

import (
	"context"
	"database/sql"
	"fmt"
	"testing"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	_ "github.com/jackc/pgx/v5/stdlib" // registers the "pgx" database/sql driver

	"github.com/mainloopdev/mainloopd/internal/model"
	"github.com/mainloopdev/mainloopd/internal/storage"
	"github.com/mainloopdev/mainloopd/internal/storage/postgres"
)

func TestPostgresIntegration(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Postgres Store Integration Suite")
}

// This spec exercises the real Postgres driver/migration path (pgx,
// pressly/goose) against a disposable container instead of sqlmock, so a
// genuine SQL-dialect or migration regression surfaces here even though
// store_test.go's sqlmock specs pass. Run with `go test -tags integration`.
var _ = Describe("postgres.Store against a real database", Ordered, func() {
	var (
		ctx       context.Context
		container testcontainers.Container
		store     storage.Store
	)

	BeforeAll(func() {
		ctx = context.Background()

		req := testcontainers.ContainerRequest{
			Image:        "postgres:16-alpine",
			ExposedPorts: []string{"5432/tcp"},
			Env: map[string]string{
				"POSTGRES_DB":       "mainloopd",
				"POSTGRES_USER":     "mainloopd",
				"POSTGRES_PASSWORD": "mainloopd",
			},
			WaitingFor: wait.ForLog("database system is ready to accept connections").WithOccurrence(2),
		}
		var err error
		container, err = testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
			ContainerRequest: req,
			Started:          true,
		})
		Expect(err).ToNot(HaveOccurred())
		DeferCleanup(func() { _ = container.Terminate(context.Background()) })

		host, err := container.Host(ctx)
		Expect(err).ToNot(HaveOccurred())
		port, err := container.MappedPort(ctx, "5432")
		Expect(err).ToNot(HaveOccurred())

		dsn := fmt.Sprintf("postgres://mainloopd:mainloopd@%s:%s/mainloopd?sslmode=disable", host, port.Port())

		migrateDB, err := sql.Open("pgx", dsn)
		Expect(err).ToNot(HaveOccurred())
		Expect(postgres.Migrate(migrateDB)).To(Succeed())
		Expect(migrateDB.Close()).To(Succeed())

		store, err = postgres.Open(ctx, dsn)
		Expect(err).ToNot(HaveOccurred())
		DeferCleanup(func() { store.Close() })

		// worker_tasks.main_thread_id references main_threads(id), so the
		// tasks below need their main thread to exist first.
		Expect(store.CreateMainThread(ctx, &model.MainThread{
			ID: "mt-1", UserID: "user-1", Status: model.MainThreadActive,
			CreatedAt: time.Now(), LastActivityAt: time.Now(),
		})).To(Succeed())
	})

	It("round-trips a worker task through Create/Get", func() {
		task := &model.WorkerTask{
			MainThreadID: "mt-1",
			UserID:       "user-1",
			RepoURL:      "acme/widgets",
			BaseBranch:   "main",
			Description:  "Add dark mode toggle",
			Prompt:       "Add dark mode toggle",
			TaskType:     model.TaskTypeFeature,
			Status:       model.TaskStatusPending,
			CreatedAt:    time.Now(),
		}
		Expect(store.CreateWorkerTask(ctx, task)).To(Succeed())
		Expect(task.ID).ToNot(BeEmpty())

		got, err := store.GetWorkerTask(ctx, task.ID)
		Expect(err).ToNot(HaveOccurred())
		Expect(got.RepoURL).To(Equal("acme/widgets"))
		Expect(got.Status).To(Equal(model.TaskStatusPending))
	})

	It("enforces the optimistic-concurrency condition on UpdateWorkerTaskStatus", func() {
		task := &model.WorkerTask{
			MainThreadID: "mt-1",
			UserID:       "user-1",
			RepoURL:      "acme/widgets",
			BaseBranch:   "main",
			Description:  "Second task",
			Prompt:       "Second task",
			TaskType:     model.TaskTypeFeature,
			Status:       model.TaskStatusPending,
			CreatedAt:    time.Now(),
		}
		Expect(store.CreateWorkerTask(ctx, task)).To(Succeed())

		err := store.UpdateWorkerTaskStatus(ctx, task.ID, model.TaskStatusImplementing, model.TaskStatusCancelled)
		Expect(err).To(MatchError(storage.ErrConditionFailed))

		Expect(store.UpdateWorkerTaskStatus(ctx, task.ID, model.TaskStatusPending, model.TaskStatusPlanning)).To(Succeed())
	})
})

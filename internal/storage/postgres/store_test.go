package postgres

import (
	"context"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/mainloopdev/mainloopd/internal/model"
	"github.com/mainloopdev/mainloopd/internal/storage"
)

func newStoreWithMock() (*store, sqlmock.Sqlmock) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	Expect(err).ToNot(HaveOccurred())
	DeferCleanup(func() { db.Close() })
	return &store{db: sqlx.NewDb(db, "sqlmock")}, mock
}

var _ = Describe("UpdateWorkerTaskStatus", func() {
	var (
		s    *store
		mock sqlmock.Sqlmock
	)

	BeforeEach(func() {
		s, mock = newStoreWithMock()
	})

	Context("when the row's current status no longer matches fromStatus", func() {
		It("returns storage.ErrConditionFailed", func() {
			mock.ExpectExec(`UPDATE worker_tasks SET status`).
				WithArgs("task-1", model.TaskStatusImplementing, model.TaskStatusCancelled).
				WillReturnResult(sqlmock.NewResult(0, 0))

			err := s.UpdateWorkerTaskStatus(context.Background(), "task-1",
				model.TaskStatusImplementing, model.TaskStatusCancelled)

			Expect(err).To(MatchError(storage.ErrConditionFailed))
			Expect(mock.ExpectationsWereMet()).To(Succeed())
		})
	})

	Context("when the row's current status matches fromStatus", func() {
		It("updates the row and returns no error", func() {
			mock.ExpectExec(`UPDATE worker_tasks SET status`).
				WithArgs("task-1", model.TaskStatusPlanning, model.TaskStatusImplementing).
				WillReturnResult(sqlmock.NewResult(0, 1))

			err := s.UpdateWorkerTaskStatus(context.Background(), "task-1",
				model.TaskStatusPlanning, model.TaskStatusImplementing)

			Expect(err).ToNot(HaveOccurred())
			Expect(mock.ExpectationsWereMet()).To(Succeed())
		})
	})
})

var _ = Describe("CreateMainThread", func() {
	It("assigns an id and persists the row", func() {
		s, mock := newStoreWithMock()
		mock.ExpectExec(`INSERT INTO main_threads`).
			WillReturnResult(sqlmock.NewResult(1, 1))

		mt := &model.MainThread{
			UserID:         "user-1",
			Status:         model.MainThreadActive,
			CreatedAt:      time.Now(),
			LastActivityAt: time.Now(),
		}

		Expect(s.CreateMainThread(context.Background(), mt)).To(Succeed())
		Expect(mt.ID).ToNot(BeEmpty())
		Expect(mock.ExpectationsWereMet()).To(Succeed())
	})
})

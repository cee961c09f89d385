package tasks

import (
	"encoding/json"

	"github.com/hibiken/asynq"
	"go.uber.org/zap"
)

// Task names
const (
	TypeSettlementRetry   = "settlement:retry"
	TypeSettlementRecover = "settlement:recover"
)

// Queue names, weighted the same way in every asynq server
const (
	QueueCritical = "critical"
	QueueDefault  = "default"
)

// Queues returns the queue weights for the asynq server config
func Queues() map[string]int {
	return map[string]int{
		QueueCritical: 6,
		QueueDefault:  3,
	}
}

// RegisterHandlers registers all task handlers with the server mux.
func RegisterHandlers(mux *asynq.ServeMux, h *SettlementJobHandler) {
	mux.HandleFunc(TypeSettlementRetry, h.HandleRetry)
	mux.HandleFunc(TypeSettlementRecover, h.HandleRecover)
}

// RegisterScheduledTasks registers the periodic recovery sweep
func RegisterScheduledTasks(scheduler *asynq.Scheduler, recoveryCron string, logger *zap.Logger) error {
	entryID, err := scheduler.Register(recoveryCron, asynq.NewTask(TypeSettlementRecover, nil), asynq.Queue(QueueDefault))
	if err != nil {
		return err
	}
	logger.Info("Scheduled settlement recovery", zap.String("cron", recoveryCron), zap.String("entry_id", entryID))
	return nil
}

func mustMarshalJSON(v interface{}) []byte {
	data, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return data
}

package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"ollama-chat/internal/model"
	"ollama-chat/internal/repository"
)

const titleGenerateTimeout = 30 * time.Second

// TitleGenerator is the slice of the inference gateway the worker needs.
type TitleGenerator interface {
	GenerateTitle(ctx context.Context, userMessage string) (string, error)
}

// TitleWorker consumes title-generation jobs and replaces the provisional
// truncated title of a freshly created conversation with a model-generated
// one. A failed generation is acked and dropped; the truncated title stands.
type TitleWorker struct {
	conn      *amqp.Connection
	repo      *repository.ConversationRepository
	generator TitleGenerator
	queueName string
	logger    *zap.SugaredLogger

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewTitleWorker(
	conn *amqp.Connection,
	repo *repository.ConversationRepository,
	generator TitleGenerator,
	queueName string,
	logger *zap.SugaredLogger,
) *TitleWorker {
	return &TitleWorker{
		conn:      conn,
		repo:      repo,
		generator: generator,
		queueName: queueName,
		logger:    logger,
	}
}

func (w *TitleWorker) Start(ctx context.Context) error {
	if w.cancel != nil {
		return nil
	}

	workerCtx, cancel := context.WithCancel(ctx)
	w.cancel = cancel

	ch, err := w.conn.Channel()
	if err != nil {
		cancel()
		return fmt.Errorf("open worker channel failed: %w", err)
	}

	_, err = ch.QueueDeclare(
		w.queueName,
		true,
		false,
		false,
		false,
		nil,
	)
	if err != nil {
		_ = ch.Close()
		cancel()
		return fmt.Errorf("declare worker queue failed: %w", err)
	}

	deliveries, err := ch.Consume(
		w.queueName,
		"",
		false,
		false,
		false,
		false,
		nil,
	)
	if err != nil {
		_ = ch.Close()
		cancel()
		return fmt.Errorf("consume queue failed: %w", err)
	}

	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		defer ch.Close()

		for {
			select {
			case <-workerCtx.Done():
				return
			case d, ok := <-deliveries:
				if !ok {
					return
				}

				var job model.TitleJob
				if err := json.Unmarshal(d.Body, &job); err != nil {
					w.logger.Errorw("worker decode title job failed", "error", err)
					_ = d.Nack(false, false)
					continue
				}

				w.handle(job)
				_ = d.Ack(false)
			}
		}
	}()

	return nil
}

func (w *TitleWorker) handle(job model.TitleJob) {
	ctx, cancel := context.WithTimeout(context.Background(), titleGenerateTimeout)
	defer cancel()

	title, err := w.generator.GenerateTitle(ctx, job.Message)
	if err != nil {
		w.logger.Warnw("title generation failed, keeping provisional title",
			"conversation_id", job.ConversationID, "error", err)
		return
	}
	if title == "" {
		return
	}

	if err := w.repo.UpdateTitle(job.ConversationID, title); err != nil {
		w.logger.Errorw("update conversation title failed",
			"conversation_id", job.ConversationID, "error", err)
	}
}

func (w *TitleWorker) Close() {
	if w.cancel != nil {
		w.cancel()
	}
	w.wg.Wait()
}

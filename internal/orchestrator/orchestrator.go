package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/sirupsen/logrus"

	"github.com/rajeee/chatdf/internal/domain"
	"github.com/rajeee/chatdf/internal/querycache"
	"github.com/rajeee/chatdf/internal/ratelimiter"
	"github.com/rajeee/chatdf/internal/workerpool"
)

// ErrRateLimitExceeded is step 3's failure (§4.6 "fail with rate_limit").
type ErrRateLimitExceeded struct {
	ResetsInSeconds int64
}

func (e *ErrRateLimitExceeded) Error() string { return "daily token limit exceeded" }

// Repository is the persistence seam the orchestrator drives.
type Repository interface {
	InsertMessage(ctx context.Context, msg *domain.Message) error
	ListMessages(ctx context.Context, conversationID domain.ConversationID) ([]domain.Message, error)
	GetConversation(ctx context.Context, id domain.ConversationID) (*domain.Conversation, error)
	UpdateConversationTitle(ctx context.Context, id domain.ConversationID, title string) error
	GetSelectedModel(ctx context.Context, principal domain.PrincipalID) (*string, error)
}

// DatasetLister is the subset of internal/datasetsvc's Service the
// orchestrator drives for step 5.
type DatasetLister interface {
	ListDatasets(ctx context.Context, conversationID domain.ConversationID) ([]domain.DatasetBinding, error)
}

// RateLimiter is the subset of internal/ratelimiter's Limiter the
// orchestrator drives for steps 3, 10, and 12.
type RateLimiter interface {
	Check(ctx context.Context, principal domain.PrincipalID) (ratelimiter.Status, error)
	Record(ctx context.Context, principal domain.PrincipalID, conversation *domain.ConversationID, modelName string, inputTokens, outputTokens int64) error
}

// WorkerPool is the subset of internal/workerpool's Pool the orchestrator's
// tool executor drives.
type WorkerPool interface {
	RunQuery(ctx context.Context, sqlText string, datasets []workerpool.Dataset) workerpool.QueryResult
}

// EventSender is the Push Channel Registry seam (§4.1 send_to_principal):
// deliver an event to every peer of principal, pruning failed peers
// silently and never surfacing an error to the caller.
type EventSender interface {
	SendToPrincipal(ctx context.Context, principal domain.PrincipalID, event Event)
}

// EventPublisher is the fire-and-forget downstream-consumer event bus
// (message.created); publish failures are logged,
// never propagated.
type EventPublisher interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
}

// wireRowCap/storageRowCap mirror §4.6 step 8's per-execution trimming:
// up to 100 rows over the wire, up to 1000 rows in storage.
const (
	wireRowCap    = 100
	storageRowCap = 1000
)

// Service implements the Chat Orchestrator.
type Service struct {
	repo     Repository
	datasets DatasetLister
	limiter  RateLimiter
	cache    *querycache.Cache
	workers  WorkerPool
	events   EventSender
	lock     *domain.ActiveConversationLock
	model    ChatModel
	kafka    EventPublisher
	logger   *logrus.Entry
}

// New builds a Service. kafka may be nil, in which case message.created
// events are skipped rather than published.
func New(
	repo Repository,
	datasets DatasetLister,
	limiter RateLimiter,
	cache *querycache.Cache,
	workers WorkerPool,
	events EventSender,
	lock *domain.ActiveConversationLock,
	model ChatModel,
	kafkaWriter EventPublisher,
	logger *logrus.Entry,
) *Service {
	return &Service{
		repo:     repo,
		datasets: datasets,
		limiter:  limiter,
		cache:    cache,
		workers:  workers,
		events:   events,
		lock:     lock,
		model:    model,
		kafka:    kafkaWriter,
		logger:   logger,
	}
}

// ProcessMessageRequest is process_message's input (§4.6).
type ProcessMessageRequest struct {
	ConversationID domain.ConversationID
	PrincipalID    domain.PrincipalID
	Content        string
}

// ProcessMessage executes the full message-send protocol. On success it
// returns the persisted assistant message. domain.ErrConversationActive and
// *ErrRateLimitExceeded are returned without a chat_error push, matching
// §4.6's error semantics; any other error sends chat_error before being
// returned.
func (s *Service) ProcessMessage(ctx context.Context, req ProcessMessageRequest) (*domain.Message, error) {
	// Step 1: check-and-set lock.
	cancel, err := s.lock.Start(req.ConversationID)
	if err != nil {
		return nil, err
	}
	defer s.lock.Finish(req.ConversationID)

	msg, err := s.run(ctx, req, cancel)
	if err != nil {
		s.handleError(ctx, req, err)
	}
	return msg, err
}

// StopGeneration sets conversationID's cancellation signal (no-op if IDLE).
func (s *Service) StopGeneration(conversationID domain.ConversationID) {
	s.lock.Stop(conversationID)
}

func (s *Service) run(ctx context.Context, req ProcessMessageRequest, cancel <-chan struct{}) (*domain.Message, error) {
	// Step 2: persist user message; auto-title.
	userMsg, err := domain.NewUserMessage(req.ConversationID, req.Content)
	if err != nil {
		return nil, err
	}
	if err := s.repo.InsertMessage(ctx, userMsg); err != nil {
		return nil, fmt.Errorf("persisting user message: %w", err)
	}

	conv, err := s.repo.GetConversation(ctx, req.ConversationID)
	if err != nil {
		return nil, fmt.Errorf("loading conversation: %w", err)
	}
	if conv.ApplyAutoTitle(req.Content) {
		if err := s.repo.UpdateConversationTitle(ctx, conv.ID, conv.Title); err != nil {
			return nil, fmt.Errorf("persisting auto-title: %w", err)
		}
		s.events.SendToPrincipal(ctx, req.PrincipalID, eventConversationTitleUpdated())
	}

	// Step 3: rate limit check.
	status, err := s.limiter.Check(ctx, req.PrincipalID)
	if err != nil {
		return nil, fmt.Errorf("checking rate limit: %w", err)
	}
	if status.Warning {
		s.events.SendToPrincipal(ctx, req.PrincipalID, eventRateLimitWarning(status.UsagePercent, status.RemainingTokens))
	}
	if !status.Allowed {
		resets := int64(0)
		if status.ResetsInSeconds != nil {
			resets = *status.ResetsInSeconds
		}
		s.events.SendToPrincipal(ctx, req.PrincipalID, eventRateLimitExceeded(resets))
		return nil, &ErrRateLimitExceeded{ResetsInSeconds: resets}
	}

	// Step 4: load + prune context.
	history, err := s.repo.ListMessages(ctx, req.ConversationID)
	if err != nil {
		return nil, fmt.Errorf("loading conversation history: %w", err)
	}
	pruned := PruneContext(history)

	// Step 5: bound datasets.
	datasets, err := s.datasets.ListDatasets(ctx, req.ConversationID)
	if err != nil {
		return nil, fmt.Errorf("loading dataset bindings: %w", err)
	}

	// Step 6: selected model (optional).
	modelID, err := s.repo.GetSelectedModel(ctx, req.PrincipalID)
	if err != nil {
		return nil, fmt.Errorf("loading selected model: %w", err)
	}

	// Step 7: generating status.
	s.events.SendToPrincipal(ctx, req.PrincipalID, eventQueryStatus("generating"))

	// Step 8: stream.
	pendingMessageID := domain.NewMessageID()
	emit := func(token string) {
		s.events.SendToPrincipal(ctx, req.PrincipalID, eventChatToken(pendingMessageID, token))
	}
	exec := s.toolExecutor(ctx, datasets)
	result, err := s.model.StreamChat(ctx, ModelRequest{Messages: pruned, Datasets: datasets, ModelID: modelID}, emit, exec, cancel)
	if err != nil {
		return nil, err
	}

	// Step 9: persist assistant message.
	asstMsg := domain.NewAssistantMessage(
		req.ConversationID,
		result.AssistantMessage,
		result.SQLExecutions,
		result.Reasoning,
		result.InputTokens,
		result.OutputTokens,
		result.ToolCallTrace,
	)
	asstMsg.ID = pendingMessageID
	if err := s.repo.InsertMessage(ctx, asstMsg); err != nil {
		return nil, fmt.Errorf("persisting assistant message: %w", err)
	}

	// Step 10: record usage.
	modelName := ""
	if modelID != nil {
		modelName = *modelID
	}
	if err := s.limiter.Record(ctx, req.PrincipalID, &req.ConversationID, modelName, int64(result.InputTokens), int64(result.OutputTokens)); err != nil {
		s.logger.WithError(err).Warn("recording token usage")
	}

	// Step 11: chat_complete.
	s.events.SendToPrincipal(ctx, req.PrincipalID, eventChatComplete(asstMsg, result.SQLExecutions))

	// Step 12: post-usage warning check.
	if postStatus, err := s.limiter.Check(ctx, req.PrincipalID); err == nil && postStatus.Warning {
		s.events.SendToPrincipal(ctx, req.PrincipalID, eventRateLimitWarning(postStatus.UsagePercent, postStatus.RemainingTokens))
	}

	s.publishMessageCreated(asstMsg)
	return asstMsg, nil
}

// handleError implements §4.6's error-handling chain: domain errors pass
// through silently, a model-side rate limit sends a friendly chat_error
// with no details, and everything else logs and sends chat_error with the
// error's type name as details.
func (s *Service) handleError(ctx context.Context, req ProcessMessageRequest, err error) {
	if errors.Is(err, domain.ErrConversationActive) {
		return
	}
	var rateLimitErr *ErrRateLimitExceeded
	if errors.As(err, &rateLimitErr) {
		return
	}

	var modelRateLimit *ModelRateLimitError
	if errors.As(err, &modelRateLimit) {
		s.logger.WithError(err).Warn("upstream model rate limit")
		s.events.SendToPrincipal(ctx, req.PrincipalID, eventChatError(modelRateLimit.Message, ""))
		return
	}

	s.logger.WithError(err).Error("error processing message")
	s.events.SendToPrincipal(ctx, req.PrincipalID, eventChatError(err.Error(), fmt.Sprintf("%T", err)))
}

// toolExecutor binds the conversation's dataset bindings into a
// ToolExecutor, routing every execute_sql call through the query cache and
// worker pool (§4.6 step 8).
func (s *Service) toolExecutor(ctx context.Context, datasets []domain.DatasetBinding) ToolExecutor {
	urls := make([]string, len(datasets))
	wpDatasets := make([]workerpool.Dataset, len(datasets))
	for i, d := range datasets {
		urls[i] = d.URL
		wpDatasets[i] = workerpool.Dataset{URL: d.URL, TableName: d.Name}
	}

	return func(execCtx context.Context, sqlText string) domain.SQLExecution {
		start := time.Now()
		result, err := s.cache.GetOrCompute(execCtx, sqlText, urls, func(innerCtx context.Context) (querycache.Result, bool, error) {
			qr := s.workers.RunQuery(innerCtx, sqlText, wpDatasets)
			if qr.Err != nil {
				return querycache.Result{}, true, errors.New(qr.Err.Message)
			}
			return querycache.Result{Columns: qr.Columns, Rows: qr.Rows, TotalRows: qr.TotalRows}, false, nil
		})
		elapsed := time.Since(start).Milliseconds()
		if err != nil {
			return domain.SQLExecution{Query: sqlText, Error: err.Error(), ElapsedMS: elapsed}
		}

		wireRows, _ := workerpool.ClampRows(result.Rows, wireRowCap)
		storageRows, _ := workerpool.ClampRows(result.Rows, storageRowCap)
		execution := domain.SQLExecution{
			Query:     sqlText,
			Columns:   result.Columns,
			Rows:      wireRows,
			TotalRows: result.TotalRows,
			ElapsedMS: elapsed,
		}
		if len(storageRows) != len(wireRows) {
			execution.FullRows = storageRows
		}
		return execution
	}
}

func (s *Service) publishMessageCreated(msg *domain.Message) {
	if s.kafka == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err := s.kafka.WriteMessages(ctx, kafka.Message{
		Topic: "message.created",
		Key:   []byte(msg.ConversationID),
		Value: []byte(fmt.Sprintf(`{"message_id":%q,"conversation_id":%q,"role":%q}`, msg.ID, msg.ConversationID, msg.Role)),
	})
	if err != nil {
		s.logger.WithError(err).Warn("publishing message.created event")
	}
}

package api

import (
	"context"
	"errors"
	"strconv"
	"time"

	"sms-dispatch/internal/audit"
	"sms-dispatch/internal/auth"
	"sms-dispatch/internal/dispatch"
	"sms-dispatch/internal/observability"
	"sms-dispatch/internal/scheduler"
	"sms-dispatch/internal/sms"
	"sms-dispatch/internal/store"
	"sms-dispatch/internal/transmit"
	"sms-dispatch/internal/tunnel"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

// MaxBulkMessages caps one bulk admission call.
const MaxBulkMessages = 100

type Handlers struct {
	logger      *zap.Logger
	store       *store.Store
	scheduler   *scheduler.Scheduler
	dispatcher  *dispatch.Dispatcher
	transmitter transmit.Transmitter
	tunnel      tunnel.Tunnel
	authSvc     *auth.Service
	recorder    *audit.Recorder
	metrics     *observability.Metrics

	retentionDays int
}

func NewHandlers(logger *zap.Logger, st *store.Store, sched *scheduler.Scheduler, disp *dispatch.Dispatcher, tx transmit.Transmitter, tun tunnel.Tunnel, authSvc *auth.Service, recorder *audit.Recorder, metrics *observability.Metrics, retentionDays int) *Handlers {
	return &Handlers{
		logger:        logger,
		store:         st,
		scheduler:     sched,
		dispatcher:    disp,
		transmitter:   tx,
		tunnel:        tun,
		authSvc:       authSvc,
		recorder:      recorder,
		metrics:       metrics,
		retentionDays: retentionDays,
	}
}

type QueueRequest struct {
	PhoneNumber     string `json:"phoneNumber"`
	Content         string `json:"content"`
	Priority        string `json:"priority"`
	RetryStrategy   string `json:"retryStrategy"`
	AppointmentTime string `json:"appointmentTime"`
	MaxRetries      *int   `json:"maxRetries"`
}

// buildMessage validates one admission request into a QUEUED message row.
func buildMessage(req *QueueRequest, now time.Time) (*sms.Message, error) {
	if err := sms.ValidatePhoneNumber(req.PhoneNumber); err != nil {
		return nil, err
	}
	if err := sms.ValidateContent(req.Content); err != nil {
		return nil, err
	}

	msg := &sms.Message{
		PhoneNumber:   req.PhoneNumber,
		Content:       req.Content,
		Priority:      sms.PriorityNormal,
		RetryStrategy: sms.RetryExponential,
		CreatedAt:     now,
	}

	if req.Priority != "" {
		msg.Priority = sms.Priority(req.Priority)
		if !msg.Priority.Valid() {
			return nil, fiber.NewError(fiber.StatusBadRequest, "unknown priority "+req.Priority)
		}
	}
	if req.RetryStrategy != "" {
		msg.RetryStrategy = sms.RetryStrategy(req.RetryStrategy)
		if !msg.RetryStrategy.Valid() {
			return nil, fiber.NewError(fiber.StatusBadRequest, "unknown retry strategy "+req.RetryStrategy)
		}
	}

	maxRetries, err := sms.NormalizeMaxRetries(req.MaxRetries)
	if err != nil {
		return nil, err
	}
	msg.MaxRetries = maxRetries

	if req.AppointmentTime != "" {
		appointment, err := sms.ParseAppointment(req.AppointmentTime, now)
		if err != nil {
			return nil, err
		}
		at := sms.ScheduleFor(appointment, now)
		msg.ScheduledAt = &at
	}
	return msg, nil
}

// QueueMessage handles POST /api/v1/sms/queue
//
//	@Summary		Queue an SMS
//	@Description	Admit one message to the dispatch queue
//	@Tags			SMS
//	@Accept			json
//	@Produce		json
//	@Param			request	body		QueueRequest	true	"Message"
//	@Success		201		{object}	sms.Message
//	@Failure		400		{object}	ErrorResponse
//	@Router			/api/v1/sms/queue [post]
func (h *Handlers) QueueMessage(c *fiber.Ctx) error {
	var req QueueRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}

	msg, err := buildMessage(&req, time.Now())
	if err != nil {
		var fe *fiber.Error
		if errors.As(err, &fe) {
			return fe
		}
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	}

	if _, err := h.store.InsertMessage(c.Context(), msg); err != nil {
		return storeError(err)
	}

	h.metrics.MessagesQueuedTotal.Inc()
	h.auditQueued(c, msg)

	return c.Status(fiber.StatusCreated).JSON(msg)
}

type BulkRequest struct {
	Messages []QueueRequest `json:"messages"`
}

type BulkAccepted struct {
	Index int   `json:"index"`
	ID    int64 `json:"id"`
}

type BulkRejected struct {
	Index  int    `json:"index"`
	Reason string `json:"reason"`
}

type BulkResponse struct {
	Accepted []BulkAccepted `json:"accepted"`
	Rejected []BulkRejected `json:"rejected"`
}

// QueueBulk handles POST /api/v1/sms/bulk. Entries are validated and
// admitted independently; one bad entry never sinks the batch.
func (h *Handlers) QueueBulk(c *fiber.Ctx) error {
	var req BulkRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}
	if len(req.Messages) == 0 {
		return fiber.NewError(fiber.StatusBadRequest, "messages is empty")
	}
	if len(req.Messages) > MaxBulkMessages {
		return fiber.NewError(fiber.StatusBadRequest,
			"bulk batch exceeds "+strconv.Itoa(MaxBulkMessages)+" messages")
	}

	now := time.Now()
	resp := BulkResponse{Accepted: []BulkAccepted{}, Rejected: []BulkRejected{}}
	for i := range req.Messages {
		msg, err := buildMessage(&req.Messages[i], now)
		if err != nil {
			resp.Rejected = append(resp.Rejected, BulkRejected{Index: i, Reason: reasonOf(err)})
			continue
		}
		if _, err := h.store.InsertMessage(c.Context(), msg); err != nil {
			resp.Rejected = append(resp.Rejected, BulkRejected{Index: i, Reason: reasonOf(err)})
			continue
		}
		h.metrics.MessagesQueuedTotal.Inc()
		h.auditQueued(c, msg)
		resp.Accepted = append(resp.Accepted, BulkAccepted{Index: i, ID: msg.ID})
	}
	return c.Status(fiber.StatusCreated).JSON(resp)
}

// GetStatus handles GET /api/v1/sms/status/:id
func (h *Handlers) GetStatus(c *fiber.Ctx) error {
	id, err := parseMessageID(c)
	if err != nil {
		return err
	}
	msg, err := h.store.GetMessage(c.Context(), id)
	if err != nil {
		return storeError(err)
	}
	// The claim reservation is internal; from the outside it is still
	// waiting on its schedule.
	if msg.Status == sms.StatusClaimed {
		msg.Status = sms.StatusScheduled
	}
	return c.JSON(msg)
}

// History handles GET /api/v1/sms/history?page=&size=&status=
func (h *Handlers) History(c *fiber.Ctx) error {
	page := c.QueryInt("page", 1)
	size := c.QueryInt("size", 50)

	var status sms.Status
	if raw := c.Query("status"); raw != "" {
		status = sms.Status(raw)
		switch status {
		case sms.StatusQueued, sms.StatusScheduled, sms.StatusSending,
			sms.StatusSent, sms.StatusFailed, sms.StatusCancelled:
		default:
			return fiber.NewError(fiber.StatusBadRequest, "unknown status "+raw)
		}
	}

	pageOut, err := h.store.ListMessages(c.Context(), status, page, size)
	if err != nil {
		return storeError(err)
	}
	for _, msg := range pageOut.Items {
		if msg.Status == sms.StatusClaimed {
			msg.Status = sms.StatusScheduled
		}
	}
	return c.JSON(pageOut)
}

// CancelMessage handles DELETE /api/v1/sms/cancel/:id. Cancelling a
// terminal message is a conflict; an in-flight one gets a best-effort
// cancel intent and reports CANCELLED like the settled case.
func (h *Handlers) CancelMessage(c *fiber.Ctx) error {
	id, err := parseMessageID(c)
	if err != nil {
		return err
	}

	outcome, err := h.store.Cancel(c.Context(), id)
	if err != nil {
		return storeError(err)
	}

	switch outcome {
	case store.CancelAlreadyTerminal:
		msg, err := h.store.GetMessage(c.Context(), id)
		if err != nil {
			return storeError(err)
		}
		return fiber.NewError(fiber.StatusConflict,
			"message already settled as "+string(msg.Status))
	case store.CancelDone:
		h.metrics.MessagesSettledTotal.WithLabelValues(string(sms.StatusCancelled)).Inc()
		h.recorder.Record(&store.AuditEvent{
			Type:     audit.EventCancelled,
			Severity: store.AuditInfo,
			OwnerID:  ownerOf(c),
			Payload:  map[string]any{"messageId": id, "stage": "queued"},
		})
	case store.CancelInFlight:
		h.recorder.Record(&store.AuditEvent{
			Type:     audit.EventCancelled,
			Severity: store.AuditInfo,
			OwnerID:  ownerOf(c),
			Payload:  map[string]any{"messageId": id, "stage": "in-flight"},
		})
	}

	return c.JSON(fiber.Map{"id": id, "status": sms.StatusCancelled})
}

type PriorityRequest struct {
	Priority string `json:"priority"`
}

// UpdatePriority handles PUT /api/v1/sms/:id/priority. Only messages
// still waiting in the queue can move; everything else is a conflict.
func (h *Handlers) UpdatePriority(c *fiber.Ctx) error {
	id, err := parseMessageID(c)
	if err != nil {
		return err
	}
	var req PriorityRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}

	if err := h.store.UpdatePriority(c.Context(), id, sms.Priority(req.Priority)); err != nil {
		return storeError(err)
	}
	msg, err := h.store.GetMessage(c.Context(), id)
	if err != nil {
		return storeError(err)
	}
	return c.JSON(msg)
}

// PauseQueue handles POST /api/v1/sms/queue/pause.
func (h *Handlers) PauseQueue(c *fiber.Ctx) error {
	h.scheduler.Pause()
	h.recorder.Record(&store.AuditEvent{
		Type:     audit.EventQueuePaused,
		Severity: store.AuditWarning,
		OwnerID:  ownerOf(c),
	})
	h.logger.Warn("queue paused by operator")
	return c.JSON(fiber.Map{"paused": true})
}

// ResumeQueue handles POST /api/v1/sms/queue/resume.
func (h *Handlers) ResumeQueue(c *fiber.Ctx) error {
	h.scheduler.Resume()
	h.recorder.Record(&store.AuditEvent{
		Type:     audit.EventQueueResumed,
		Severity: store.AuditInfo,
		OwnerID:  ownerOf(c),
	})
	return c.JSON(fiber.Map{"paused": false})
}

// Health handles GET /api/v1/health. Overall status is down when the
// store is unreachable, degraded when any other component is off nominal.
func (h *Handlers) Health(c *fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(c.Context(), 5*time.Second)
	defer cancel()

	overall := "up"
	components := fiber.Map{}

	if err := h.store.Health(ctx); err != nil {
		components["store"] = "down"
		overall = "down"
	} else {
		components["store"] = "up"
	}

	if h.scheduler.Paused() {
		components["scheduler"] = "paused"
		if overall == "up" {
			overall = "degraded"
		}
	} else {
		components["scheduler"] = "up"
	}

	components["dispatcher"] = "up"

	simState := h.transmitter.SimState(ctx)
	components["transmitter"] = string(simState)
	if simState != transmit.SimReady && overall == "up" {
		overall = "degraded"
	}

	components["tunnel"] = string(h.tunnel.Status())

	depth, err := h.store.QueueDepth(ctx)
	if err != nil {
		depth = -1
	}

	status := fiber.StatusOK
	if overall == "down" {
		status = fiber.StatusServiceUnavailable
	}
	return c.Status(status).JSON(fiber.Map{
		"overall":      overall,
		"components":   components,
		"queueDepth":   depth,
		"pendingTasks": h.dispatcher.Pending(),
		"time":         time.Now().UTC(),
	})
}

func (h *Handlers) auditQueued(c *fiber.Ctx, msg *sms.Message) {
	h.recorder.Record(&store.AuditEvent{
		Type:     audit.EventQueued,
		Severity: store.AuditInfo,
		OwnerID:  ownerOf(c),
		Payload: map[string]any{
			"messageId": msg.ID,
			"priority":  string(msg.Priority),
			"parts":     sms.CalculateParts(msg.Content),
		},
	})
}

func parseMessageID(c *fiber.Ctx) (int64, error) {
	id, err := strconv.ParseInt(c.Params("id"), 10, 64)
	if err != nil || id < 1 {
		return 0, fiber.NewError(fiber.StatusBadRequest, "invalid message id")
	}
	return id, nil
}

// reasonOf extracts the human-readable part of a per-entry bulk failure.
func reasonOf(err error) string {
	var fe *fiber.Error
	if errors.As(err, &fe) {
		return fe.Message
	}
	return err.Error()
}

func ownerOf(c *fiber.Ctx) *string {
	if identity, ok := auth.IdentityFromContext(c); ok {
		return &identity.OwnerID
	}
	return nil
}

package handler

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/kursadbilgin/timecapsule/internal/domain"
	"github.com/kursadbilgin/timecapsule/internal/repository"
	"github.com/kursadbilgin/timecapsule/internal/service"
)

const (
	defaultPage     = 1
	defaultPageSize = 20
	maxPageSize     = 100

	formFieldVideo = "video"
)

type MessageService interface {
	Create(ctx context.Context, in service.CreateMessageInput) (*domain.Message, error)
	List(ctx context.Context, ownerID string, params repository.ListParams) ([]domain.Message, int64, error)
	Get(ctx context.Context, ownerID string, id string) (*service.MessageDetail, error)
	Delete(ctx context.Context, ownerID string, id string) error
}

type MessageHandler struct {
	service MessageService
}

type createMessageRequest struct {
	Body                 string `json:"body" form:"body"`
	RecipientEmail       string `json:"recipientEmail" form:"recipientEmail"`
	DeliverOn            string `json:"deliverOn" form:"deliverOn"`
	VideoDurationSeconds *int   `json:"videoDurationSeconds,omitempty" form:"videoDurationSeconds"`
}

type messageResponse struct {
	ID                   string     `json:"id"`
	OwnerID              string     `json:"ownerId"`
	Body                 string     `json:"body"`
	RecipientEmail       string     `json:"recipientEmail"`
	DeliverOn            string     `json:"deliverOn"`
	Status               string     `json:"status"`
	HasVideo             bool       `json:"hasVideo"`
	VideoSizeBytes       int64      `json:"videoSizeBytes,omitempty"`
	VideoDurationSeconds *int       `json:"videoDurationSeconds,omitempty"`
	DeliveredAt          *time.Time `json:"deliveredAt,omitempty"`
	CreatedAt            time.Time  `json:"createdAt"`
}

type attemptResponse struct {
	AttemptNumber     int       `json:"attemptNumber"`
	Status            string    `json:"status"`
	ProviderMessageID *string   `json:"providerMessageId,omitempty"`
	ErrorDetail       *string   `json:"errorDetail,omitempty"`
	CreatedAt         time.Time `json:"createdAt"`
}

type messageDetailResponse struct {
	messageResponse
	Attempts []attemptResponse `json:"attempts"`
}

type listMeta struct {
	Page       int   `json:"page"`
	PageSize   int   `json:"pageSize"`
	Total      int64 `json:"total"`
	TotalPages int   `json:"totalPages"`
}

func NewMessageHandler(service MessageService) (*MessageHandler, error) {
	if service == nil {
		return nil, fmt.Errorf("message service is required")
	}
	return &MessageHandler{service: service}, nil
}

func RegisterMessageRoutes(router fiber.Router, service MessageService) error {
	h, err := NewMessageHandler(service)
	if err != nil {
		return err
	}

	messages := router.Group("/v1/messages", RequireOwner())
	messages.Post("/", h.Create)
	messages.Get("/", h.List)
	messages.Get("/:id", h.Get)
	messages.Delete("/:id", h.Delete)

	return nil
}

// Create accepts either a JSON body or a multipart form carrying an optional
// video file.
func (h *MessageHandler) Create(c *fiber.Ctx) error {
	var req createMessageRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}

	deliverOn, err := domain.ParseDate(req.DeliverOn)
	if err != nil {
		return toHTTPError(err)
	}

	in := service.CreateMessageInput{
		OwnerID:        ownerID(c),
		Body:           req.Body,
		RecipientEmail: req.RecipientEmail,
		DeliverOn:      deliverOn,
	}

	if strings.HasPrefix(c.Get(fiber.HeaderContentType), fiber.MIMEMultipartForm) {
		form, err := c.MultipartForm()
		if err != nil {
			return fiber.NewError(fiber.StatusBadRequest, "invalid multipart form")
		}
		if files := form.File[formFieldVideo]; len(files) > 0 {
			file, err := files[0].Open()
			if err != nil {
				return fiber.NewError(fiber.StatusBadRequest, "unreadable video file")
			}
			defer file.Close()

			in.Video = &service.VideoUpload{
				Content:         file,
				SizeBytes:       files[0].Size,
				ContentType:     files[0].Header.Get(fiber.HeaderContentType),
				DurationSeconds: req.VideoDurationSeconds,
			}
		}
	}

	msg, err := h.service.Create(c.UserContext(), in)
	if err != nil {
		return toHTTPError(err)
	}

	return c.Status(fiber.StatusCreated).JSON(toMessageResponse(msg))
}

func (h *MessageHandler) List(c *fiber.Ctx) error {
	params, err := parseListParams(c)
	if err != nil {
		return err
	}

	messages, total, err := h.service.List(c.UserContext(), ownerID(c), params)
	if err != nil {
		return toHTTPError(err)
	}

	data := make([]messageResponse, 0, len(messages))
	for i := range messages {
		data = append(data, toMessageResponse(&messages[i]))
	}

	totalPages := 0
	if total > 0 {
		totalPages = int((total + int64(params.PageSize) - 1) / int64(params.PageSize))
	}

	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"data": data,
		"meta": listMeta{
			Page:       params.Page,
			PageSize:   params.PageSize,
			Total:      total,
			TotalPages: totalPages,
		},
	})
}

func (h *MessageHandler) Get(c *fiber.Ctx) error {
	detail, err := h.service.Get(c.UserContext(), ownerID(c), c.Params("id"))
	if err != nil {
		return toHTTPError(err)
	}

	attempts := make([]attemptResponse, 0, len(detail.Attempts))
	for _, a := range detail.Attempts {
		attempts = append(attempts, attemptResponse{
			AttemptNumber:     a.AttemptNumber,
			Status:            a.Status.String(),
			ProviderMessageID: a.ProviderMessageID,
			ErrorDetail:       a.ErrorDetail,
			CreatedAt:         a.CreatedAt,
		})
	}

	return c.Status(fiber.StatusOK).JSON(messageDetailResponse{
		messageResponse: toMessageResponse(&detail.Message),
		Attempts:        attempts,
	})
}

func (h *MessageHandler) Delete(c *fiber.Ctx) error {
	if err := h.service.Delete(c.UserContext(), ownerID(c), c.Params("id")); err != nil {
		return toHTTPError(err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

func parseListParams(c *fiber.Ctx) (repository.ListParams, error) {
	params := repository.ListParams{
		Page:     defaultPage,
		PageSize: defaultPageSize,
	}

	if raw := strings.TrimSpace(c.Query("page")); raw != "" {
		page, err := strconv.Atoi(raw)
		if err != nil || page < 1 {
			return repository.ListParams{}, fiber.NewError(fiber.StatusBadRequest, "page must be a positive integer")
		}
		params.Page = page
	}

	if raw := strings.TrimSpace(c.Query("pageSize")); raw != "" {
		pageSize, err := strconv.Atoi(raw)
		if err != nil || pageSize < 1 || pageSize > maxPageSize {
			return repository.ListParams{}, fiber.NewError(fiber.StatusBadRequest, fmt.Sprintf("pageSize must be between 1 and %d", maxPageSize))
		}
		params.PageSize = pageSize
	}

	if raw := strings.TrimSpace(c.Query("status")); raw != "" {
		status, err := domain.ParseMessageStatus(raw)
		if err != nil {
			return repository.ListParams{}, toHTTPError(err)
		}
		params.Status = &status
	}

	return params, nil
}

func toMessageResponse(m *domain.Message) messageResponse {
	return messageResponse{
		ID:                   m.ID,
		OwnerID:              m.OwnerID,
		Body:                 m.Body,
		RecipientEmail:       m.RecipientEmail,
		DeliverOn:            m.DeliverOn.Format(domain.DateLayout),
		Status:               m.Status.String(),
		HasVideo:             m.HasVideo(),
		VideoSizeBytes:       m.VideoSizeBytes,
		VideoDurationSeconds: m.VideoDurationSeconds,
		DeliveredAt:          m.DeliveredAt,
		CreatedAt:            m.CreatedAt,
	}
}

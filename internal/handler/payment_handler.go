package handler

import (
	"context"
	"fmt"

	"github.com/gofiber/fiber/v2"
	"github.com/kursadbilgin/timecapsule/internal/payment"
	"github.com/kursadbilgin/timecapsule/internal/service"
)

const HeaderStripeSignature = "Stripe-Signature"

type PaymentService interface {
	HandleWebhook(ctx context.Context, payload []byte, signature string) (service.WebhookResult, error)
	Checkout(ctx context.Context, ownerID string) (*payment.CheckoutSession, error)
}

type PaymentHandler struct {
	service PaymentService
}

func NewPaymentHandler(service PaymentService) (*PaymentHandler, error) {
	if service == nil {
		return nil, fmt.Errorf("payment service is required")
	}
	return &PaymentHandler{service: service}, nil
}

func RegisterPaymentRoutes(router fiber.Router, service PaymentService) error {
	h, err := NewPaymentHandler(service)
	if err != nil {
		return err
	}

	v1 := router.Group("/v1")
	v1.Post("/webhooks/payment", h.Webhook)
	v1.Post("/checkout", RequireOwner(), h.Checkout)

	return nil
}

// Webhook answers 400 for bad signatures and 5xx for anything the provider
// should retry.
func (h *PaymentHandler) Webhook(c *fiber.Ctx) error {
	// fasthttp reuses the body buffer after the handler returns.
	payload := append([]byte(nil), c.Body()...)

	result, err := h.service.HandleWebhook(c.UserContext(), payload, c.Get(HeaderStripeSignature))
	if err != nil {
		return toHTTPError(err)
	}

	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"received": true,
		"status":   result.Status,
	})
}

func (h *PaymentHandler) Checkout(c *fiber.Ctx) error {
	session, err := h.service.Checkout(c.UserContext(), ownerID(c))
	if err != nil {
		return toHTTPError(err)
	}

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"sessionId": session.ID,
		"url":       session.URL,
	})
}

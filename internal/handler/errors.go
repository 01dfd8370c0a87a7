package handler

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"github.com/kursadbilgin/timecapsule/internal/domain"
	"github.com/kursadbilgin/timecapsule/internal/payment"
)

func toHTTPError(err error) error {
	switch {
	case errors.Is(err, domain.ErrValidation), errors.Is(err, payment.ErrSignatureVerification):
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	case errors.Is(err, domain.ErrNotFound):
		return fiber.NewError(fiber.StatusNotFound, err.Error())
	case errors.Is(err, domain.ErrFreeTierConsumed):
		return fiber.NewError(fiber.StatusPaymentRequired, err.Error())
	case errors.Is(err, domain.ErrConflict), errors.Is(err, domain.ErrQuotaExceeded):
		return fiber.NewError(fiber.StatusConflict, err.Error())
	default:
		return err
	}
}

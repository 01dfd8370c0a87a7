package handler

import (
	"context"
	"fmt"

	"github.com/gofiber/fiber/v2"
	"github.com/kursadbilgin/timecapsule/internal/service"
)

type DeliveryRunner interface {
	Run(ctx context.Context) (service.RunResult, error)
}

type RetentionSweeper interface {
	Sweep(ctx context.Context) (service.SweepResult, error)
}

type ProjectionReconciler interface {
	Reconcile(ctx context.Context) (service.ReconcileResult, error)
}

type JobHandler struct {
	runner     DeliveryRunner
	sweeper    RetentionSweeper
	reconciler ProjectionReconciler
}

func NewJobHandler(runner DeliveryRunner, sweeper RetentionSweeper, reconciler ProjectionReconciler) (*JobHandler, error) {
	if runner == nil || sweeper == nil || reconciler == nil {
		return nil, fmt.Errorf("delivery runner, retention sweeper and reconciler are required")
	}
	return &JobHandler{runner: runner, sweeper: sweeper, reconciler: reconciler}, nil
}

// RegisterJobRoutes mounts the scheduler-invoked endpoints behind the shared
// secret.
func RegisterJobRoutes(router fiber.Router, secret string, runner DeliveryRunner, sweeper RetentionSweeper, reconciler ProjectionReconciler) error {
	if secret == "" {
		return fmt.Errorf("job secret is required")
	}
	h, err := NewJobHandler(runner, sweeper, reconciler)
	if err != nil {
		return err
	}

	jobs := router.Group("/v1/jobs", RequireBearerSecret(secret))
	jobs.Post("/deliver", h.Deliver)
	jobs.Post("/retention", h.Retention)
	jobs.Post("/reconcile", h.Reconcile)

	return nil
}

func (h *JobHandler) Deliver(c *fiber.Ctx) error {
	result, err := h.runner.Run(c.UserContext())
	if err != nil {
		return err
	}

	if result.Skipped {
		return c.Status(fiber.StatusOK).JSON(fiber.Map{
			"skipped": true,
			"reason":  result.Reason,
		})
	}

	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"processed":    result.Processed,
		"delivered":    result.Delivered,
		"failed":       result.Failed,
		"stoppedEarly": result.StoppedEarly,
	})
}

func (h *JobHandler) Retention(c *fiber.Ctx) error {
	result, err := h.sweeper.Sweep(c.UserContext())
	if err != nil {
		return err
	}
	return c.Status(fiber.StatusOK).JSON(result)
}

func (h *JobHandler) Reconcile(c *fiber.Ctx) error {
	result, err := h.reconciler.Reconcile(c.UserContext())
	if err != nil {
		return err
	}
	return c.Status(fiber.StatusOK).JSON(result)
}

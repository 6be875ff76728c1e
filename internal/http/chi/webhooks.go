package chi

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/einvoiceng/firshook/targets"
	"github.com/einvoiceng/firshook/webhook/manager"
	"github.com/einvoiceng/firshook/webhook/receiver"
)

/* HTTP layer DTOs for webhook API
 * Separate from domain entities to avoid leaking internal structure
 */

// webhookResponse represents the API response after a webhook was processed
type webhookResponse struct {
	EventID        string   `json:"event_id"`
	EventType      string   `json:"event_type"`
	Status         string   `json:"status"`
	Message        string   `json:"message,omitempty"`
	ErrorCode      string   `json:"error_code,omitempty"`
	RetryJobID     string   `json:"retry_job_id,omitempty"`
	DispatchJobIDs []string `json:"dispatch_job_ids,omitempty"`
}

// errorResponse is the JSON body for rejected requests
type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// targetResponse represents a dispatch target in the API, secrets excluded
type targetResponse struct {
	TargetID    string   `json:"target_id"`
	Name        string   `json:"name"`
	Method      string   `json:"method"`
	EndpointURL string   `json:"endpoint_url,omitempty"`
	Enabled     bool     `json:"enabled"`
	EventTypes  []string `json:"event_types,omitempty"`
	MaxAttempts int      `json:"max_attempts"`
}

// retryJobResponse represents a retry job in the API
type retryJobResponse struct {
	JobID          string    `json:"job_id"`
	EventID        string    `json:"event_id"`
	Status         string    `json:"status"`
	AttemptCount   int       `json:"attempt_count"`
	MaxAttempts    int       `json:"max_attempts"`
	NextRetryAt    time.Time `json:"next_retry_at"`
	FailureReasons []string  `json:"failure_reasons,omitempty"`
}

// retryQueueResponse represents the scheduler's queue snapshot
type retryQueueResponse struct {
	Pending        int                `json:"pending"`
	Active         int                `json:"active"`
	Completed      int                `json:"completed"`
	Cancelled      int64              `json:"cancelled"`
	TotalScheduled int64              `json:"total_scheduled"`
	DeadLetters    []retryJobResponse `json:"dead_letters"`
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, errorResponse{Error: code, Message: message})
}

// postWebhook handles POST /v1/webhooks
func postWebhook(svc *manager.Manager) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		out, err := svc.ProcessWebhook(r)
		if err != nil {
			var rerr *receiver.Error
			if errors.As(err, &rerr) {
				writeError(w, rerr.Status, rerr.Code, rerr.Message)
				return
			}
			writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", err.Error())
			return
		}

		resp := webhookResponse{
			EventID:        out.Payload.EventID,
			EventType:      out.Payload.EventType,
			Status:         out.Result.Status.String(),
			Message:        out.Result.Message,
			ErrorCode:      out.Result.ErrorCode,
			RetryJobID:     out.RetryJobID,
			DispatchJobIDs: out.DispatchJobIDs,
		}

		switch {
		case out.Result.Success:
			writeJSON(w, http.StatusOK, resp)
		case out.RetryJobID != "":
			writeJSON(w, http.StatusAccepted, resp)
		default:
			writeJSON(w, http.StatusUnprocessableEntity, resp)
		}
	})
}

// getStatus handles GET /v1/status
func getStatus(svc *manager.Manager) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, svc.ComprehensiveStatus())
	})
}

// getTargets handles GET /v1/targets
func getTargets(svc *manager.Manager) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		all := svc.Dispatcher().Targets()

		responses := make([]targetResponse, 0, len(all))
		for _, t := range all {
			responses = append(responses, targetResponse{
				TargetID:    t.TargetID,
				Name:        t.Name,
				Method:      t.Method.String(),
				EndpointURL: t.EndpointURL,
				Enabled:     t.Enabled,
				EventTypes:  t.Filter.EventTypes,
				MaxAttempts: t.Retry.MaxAttempts,
			})
		}

		writeJSON(w, http.StatusOK, responses)
	})
}

// getRetries handles GET /v1/retries
func getRetries(svc *manager.Manager) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		status := svc.Scheduler().GetQueueStatus()

		resp := retryQueueResponse{
			Pending:        status.Pending,
			Active:         status.Active,
			Completed:      status.Completed,
			Cancelled:      status.Cancelled,
			TotalScheduled: status.TotalScheduled,
			DeadLetters:    make([]retryJobResponse, 0, len(status.DeadLetterQueue)),
		}
		for _, job := range status.DeadLetterQueue {
			resp.DeadLetters = append(resp.DeadLetters, retryJobResponse{
				JobID:          job.ID,
				EventID:        job.Payload.EventID,
				Status:         job.Status.String(),
				AttemptCount:   job.AttemptCount,
				MaxAttempts:    job.MaxAttempts,
				NextRetryAt:    job.NextRetryAt,
				FailureReasons: job.FailureReasons,
			})
		}

		writeJSON(w, http.StatusOK, resp)
	})
}

// postRequeue handles POST /v1/retries/{job_id}/requeue
func postRequeue(svc *manager.Manager) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		jobID := chi.URLParam(r, "job_id")
		if jobID == "" {
			writeError(w, http.StatusBadRequest, "MISSING_JOB_ID", "job_id is required")
			return
		}

		if err := svc.Scheduler().RequeueDeadLetter(jobID); err != nil {
			writeError(w, http.StatusNotFound, "JOB_NOT_FOUND", fmt.Sprintf("dead-letter job not found: %s", jobID))
			return
		}

		writeJSON(w, http.StatusOK, map[string]string{"job_id": jobID, "status": "requeued"})
	})
}

// deleteRetry handles DELETE /v1/retries/{job_id}
func deleteRetry(svc *manager.Manager) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		jobID := chi.URLParam(r, "job_id")
		if jobID == "" {
			writeError(w, http.StatusBadRequest, "MISSING_JOB_ID", "job_id is required")
			return
		}

		if !svc.Scheduler().CancelRetry(jobID) {
			writeError(w, http.StatusNotFound, "JOB_NOT_FOUND", fmt.Sprintf("pending job not found: %s", jobID))
			return
		}

		writeJSON(w, http.StatusOK, map[string]string{"job_id": jobID, "status": "cancelled"})
	})
}

// reloadTargets handles POST /v1/targets/reload
func reloadTargets(svc *manager.Manager, loader *targets.Loader, filePath string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := loader.Load(filePath); err != nil {
			writeError(w, http.StatusUnprocessableEntity, "INVALID_TARGETS", err.Error())
			return
		}
		if err := loader.Apply(svc.Dispatcher()); err != nil {
			writeError(w, http.StatusUnprocessableEntity, "INVALID_TARGETS", err.Error())
			return
		}

		writeJSON(w, http.StatusOK, map[string]any{
			"status":  "reloaded",
			"targets": len(loader.List()),
		})
	})
}

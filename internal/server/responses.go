package server

import (
	"time"

	"github.com/pendergraft/contraverify/internal/storage"
)

type runResponse struct {
	ID         string     `json:"id"`
	Status     string     `json:"status"`
	Jobs       int        `json:"jobs"`
	Total      int        `json:"total"`
	Passed     int        `json:"passed"`
	Failed     int        `json:"failed"`
	Requeued   int        `json:"requeued"`
	StartedAt  time.Time  `json:"startedAt"`
	FinishedAt *time.Time `json:"finishedAt,omitempty"`
}

type resultResponse struct {
	ContractID string    `json:"contractId"`
	RunID      string    `json:"runId"`
	Address    string    `json:"address"`
	Network    string    `json:"network"`
	TxID       string    `json:"txid"`
	Compiler   string    `json:"compiler"`
	Passed     bool      `json:"passed"`
	Kind       string    `json:"kind,omitempty"`
	Message    string    `json:"message,omitempty"`
	Warnings   int       `json:"warnings"`
	CreatedAt  time.Time `json:"createdAt"`
}

func toRunResponse(r *storage.Run) runResponse {
	return runResponse{
		ID:         r.ID,
		Status:     r.Status,
		Jobs:       r.Jobs,
		Total:      r.Total,
		Passed:     r.Passed,
		Failed:     r.Failed,
		Requeued:   r.Requeued,
		StartedAt:  r.StartedAt,
		FinishedAt: r.FinishedAt,
	}
}

func toResultResponse(r *storage.Result) resultResponse {
	return resultResponse{
		ContractID: r.ContractID,
		RunID:      r.RunID,
		Address:    r.Address,
		Network:    r.Network,
		TxID:       r.TxID,
		Compiler:   r.Compiler,
		Passed:     r.Passed,
		Kind:       r.Kind,
		Message:    r.Message,
		Warnings:   r.Warnings,
		CreatedAt:  r.CreatedAt,
	}
}

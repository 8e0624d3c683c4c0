package main

import (
	"context"
	"fmt"

	"github.com/dvloznov/statement-categorizer/internal/domain"
	"github.com/dvloznov/statement-categorizer/internal/jobs"
	"github.com/dvloznov/statement-categorizer/internal/pipeline"
	"github.com/rs/zerolog"
)

// backgroundRunner processes a job and posts its result to the callback.
type backgroundRunner interface {
	RunAndDeliver(ctx context.Context, job pipeline.Job) (domain.DocumentResult, error)
}

// statementJobHandler adapts queued statement jobs to the pipeline. The
// pipeline delivers the callback, for failures as well; the returned error
// only marks the job failed.
func statementJobHandler(runner backgroundRunner, log zerolog.Logger) jobs.JobHandler {
	return func(ctx context.Context, job jobs.Job) error {
		statementJob, ok := job.(*jobs.ProcessStatementJob)
		if !ok {
			return fmt.Errorf("unexpected job type: %T", job)
		}

		log.Info().
			Str("job_id", statementJob.JobID).
			Str("user_id", statementJob.UserID).
			Str("file_url", statementJob.FileURL).
			Msg("Processing statement job")

		result, err := runner.RunAndDeliver(ctx, pipeline.Job{
			ID:          statementJob.JobID,
			UserID:      statementJob.UserID,
			Document:    domain.RawDocument{Password: statementJob.Password},
			DocumentURL: statementJob.FileURL,
			WebhookURL:  statementJob.WebhookURL,
		})
		statementJob.BankName = result.BankName
		statementJob.TransactionsCount = result.TransactionsCount
		if err != nil {
			return err
		}

		log.Info().
			Str("job_id", statementJob.JobID).
			Bool("success", result.Success).
			Int("transactions", result.TransactionsCount).
			Msg("Statement job completed")
		return nil
	}
}

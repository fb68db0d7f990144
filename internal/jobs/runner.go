package jobs

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/jonathan/conciliation-filer/internal/jurisdiction"
	"github.com/jonathan/conciliation-filer/internal/portal"
	"github.com/jonathan/conciliation-filer/internal/proxy"
	"github.com/jonathan/conciliation-filer/internal/types"
)

// Progress reached at each step.
const (
	progressStarted   = 5
	progressValidated = 20
	progressResolved  = 35
	progressProxy     = 50
	progressSubmitted = 60
	progressDone      = 100
)

var (
	// errStopped ends an execution whose job was cancelled or finished elsewhere.
	errStopped = errors.New("job no longer runnable")
	// errFailed ends an execution after the job was marked failed.
	errFailed = errors.New("job failed")
)

// execution carries the state of one run of a job.
type execution struct {
	o        *Orchestrator
	job      *types.Job
	kase     *types.Case
	decision *jurisdiction.Decision
	log      logrus.FieldLogger
}

func (o *Orchestrator) run(ctx context.Context, jobID string) {
	ctx, cancel := context.WithTimeout(ctx, o.cfg.JobTimeout)
	defer cancel()

	ex := &execution{o: o, log: o.log.WithField("job_id", jobID)}
	err := ex.start(ctx, jobID)
	if err == nil {
		err = ex.validate(ctx)
	}
	if err == nil {
		err = ex.resolve(ctx)
	}
	if err == nil {
		err = ex.submit(ctx)
	}

	switch {
	case err == nil, errors.Is(err, errStopped), errors.Is(err, errFailed):
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		o.fail(ctx, jobID, types.ErrCodeInternal, "job execution timed out or was interrupted", true)
	default:
		ex.log.WithError(err).Error("job execution error")
		o.fail(ctx, jobID, types.ErrCodeInternal, err.Error(), true)
	}
}

// transition applies fn to a non-terminal job. It returns errStopped when the
// job was cancelled or already finished.
func (o *Orchestrator) transition(ctx context.Context, jobID string, fn func(*types.Job)) (*types.Job, error) {
	job, err := o.store.UpdateJob(context.WithoutCancel(ctx), jobID, func(j *types.Job) error {
		if j.Status.Terminal() {
			return errStopped
		}
		fn(j)
		return nil
	})
	if err != nil {
		return nil, err
	}
	o.publishJob(ctx, job)
	return job, nil
}

// fail marks the job failed. A job already terminal is left alone.
func (o *Orchestrator) fail(ctx context.Context, jobID, code, msg string, retryable bool) {
	now := o.now()
	job, err := o.transition(ctx, jobID, func(j *types.Job) {
		j.Status = types.JobFailed
		j.CurrentStep = types.StepFailed
		j.CompletedAt = &now
		j.Error = &types.JobError{Code: code, Message: msg, Retryable: retryable}
	})
	if err != nil {
		if !errors.Is(err, errStopped) {
			o.log.WithError(err).WithField("job_id", jobID).Error("failed to record job failure")
		}
		return
	}
	o.appendLog(ctx, job, types.SeverityError, fmt.Sprintf("filing failed (%s): %s", code, msg))
}

func (ex *execution) fail(ctx context.Context, code, msg string, retryable bool) error {
	ex.o.fail(ctx, ex.job.ID, code, msg, retryable)
	return errFailed
}

// checkpoint re-reads the job and stops the run if it was cancelled.
func (ex *execution) checkpoint(ctx context.Context) error {
	job, err := ex.o.store.GetJob(context.WithoutCancel(ctx), ex.job.ID)
	if err != nil {
		return err
	}
	if job.Status.Terminal() {
		ex.log.WithField("status", job.Status).Info("job stopped at checkpoint")
		return errStopped
	}
	return nil
}

func (ex *execution) advance(ctx context.Context, step string, progress int) error {
	job, err := ex.o.transition(ctx, ex.job.ID, func(j *types.Job) {
		j.CurrentStep = step
		j.Progress = progress
	})
	if err != nil {
		return err
	}
	ex.job = job
	return nil
}

func (ex *execution) info(ctx context.Context, format string, args ...any) {
	ex.o.appendLog(ctx, ex.job, types.SeverityInfo, fmt.Sprintf(format, args...))
}

func (ex *execution) warn(ctx context.Context, format string, args ...any) {
	ex.o.appendLog(ctx, ex.job, types.SeverityWarning, fmt.Sprintf(format, args...))
}

func (ex *execution) start(ctx context.Context, jobID string) error {
	now := ex.o.now()
	job, err := ex.o.transition(ctx, jobID, func(j *types.Job) {
		if j.Status != types.JobPending || j.CurrentStep != types.StepQueued {
			return
		}
		j.Status = types.JobRunning
		j.CurrentStep = types.StepValidating
		j.Progress = progressStarted
		j.StartedAt = &now
		j.Attempts++
		j.Error = nil
	})
	if err != nil {
		return err
	}
	if job.Status != types.JobRunning || job.CurrentStep != types.StepValidating {
		return errStopped
	}
	ex.job = job
	ex.log = ex.log.WithField("case_id", job.CaseID)
	ex.info(ctx, "job started (attempt %d)", job.Attempts)
	return nil
}

func (ex *execution) validate(ctx context.Context) error {
	c, err := ex.o.cases.GetCase(ctx, ex.job.CaseID)
	if err != nil {
		return fmt.Errorf("failed to load case: %w", err)
	}
	if c == nil {
		return ex.fail(ctx, types.ErrCodeValidation, "case no longer exists", false)
	}
	r, err := ex.o.access.Requester(ctx, ex.job.RequesterID)
	if err != nil {
		return fmt.Errorf("failed to load requester: %w", err)
	}
	switch {
	case r == nil:
		return ex.fail(ctx, types.ErrCodeValidation, "unknown requester", false)
	case !r.CanFile(c):
		return ex.fail(ctx, types.ErrCodeValidation, "requester is not authorized to file this case", false)
	case r.RateLimited:
		return ex.fail(ctx, types.ErrCodeValidation, "requester is rate limited", true)
	case !r.IsAdmin() && r.CreditsRemaining <= 0:
		return ex.fail(ctx, types.ErrCodeValidation, "requester has no filing credits left", false)
	}
	if err := c.Validate(!ex.job.SkipChecks); err != nil {
		return ex.fail(ctx, types.ErrCodeValidation, err.Error(), false)
	}

	dl := ex.o.resolver.Deadline(*c.TerminationDate, c.TerminationType)
	if dl.Expired {
		return ex.fail(ctx, types.ErrCodePrescriptionExpired,
			fmt.Sprintf("prescription deadline %s has passed", dl.Date.Format(time.DateOnly)), false)
	}
	ex.kase = c

	if err := ex.advance(ctx, types.StepResolving, progressValidated); err != nil {
		return err
	}
	if dl.Urgent {
		ex.warn(ctx, "prescription deadline %s is %d days away", dl.Date.Format(time.DateOnly), dl.RemainingDays)
	}
	ex.info(ctx, "case validated")
	return ex.checkpoint(ctx)
}

func (ex *execution) resolve(ctx context.Context) error {
	c := ex.kase
	dec, err := ex.o.resolver.Resolve(ctx, jurisdiction.Query{
		State:           c.EmployerState,
		IndustryCode:    c.Industry(),
		TerminationDate: c.TerminationDate,
		TerminationType: c.TerminationType,
	})
	var unknown *jurisdiction.UnknownStateError
	var noAuth *jurisdiction.NoAuthorityError
	switch {
	case errors.As(err, &unknown):
		return ex.fail(ctx, types.ErrCodeUnknownState, err.Error(), false)
	case errors.As(err, &noAuth):
		return ex.fail(ctx, types.ErrCodeNoAuthority, err.Error(), false)
	case err != nil:
		return ex.fail(ctx, types.ErrCodeInternal, err.Error(), true)
	}
	ex.decision = dec

	if err := ex.advance(ctx, types.StepAcquiringProxy, progressResolved); err != nil {
		return err
	}
	ex.info(ctx, "jurisdiction resolved: %s competence, %s", dec.Competence, dec.Authority.Name)
	return ex.checkpoint(ctx)
}

func (ex *execution) backoff(attempt int) time.Duration {
	return ex.o.cfg.BackoffBase << attempt
}

func (ex *execution) acquire(ctx context.Context) (proxy.Identity, error) {
	state := ex.decision.StateCode()
	for attempt := 0; ; attempt++ {
		id, err := ex.o.pool.Acquire(ctx, state)
		if err == nil {
			return id, nil
		}
		if !errors.Is(err, proxy.ErrUnavailable) {
			return proxy.Identity{}, err
		}
		if attempt >= ex.o.cfg.ProxyRetries {
			return proxy.Identity{}, ex.fail(ctx, types.ErrCodeProxyExhausted,
				fmt.Sprintf("no proxy identity available after %d attempts", attempt+1), true)
		}
		wait := ex.backoff(attempt)
		ex.warn(ctx, "no proxy identity available, retrying in %s", wait)
		if err := proxy.Sleep(ctx, wait); err != nil {
			return proxy.Identity{}, err
		}
		if err := ex.checkpoint(ctx); err != nil {
			return proxy.Identity{}, err
		}
	}
}

func (ex *execution) submit(ctx context.Context) error {
	id, err := ex.acquire(ctx)
	if err != nil {
		return err
	}
	used := false
	defer func() { ex.o.pool.Release(id, used) }()

	if err := ex.advance(ctx, types.StepSubmitting, progressProxy); err != nil {
		return err
	}
	ex.info(ctx, "proxy identity %s acquired", id.ID)

	sub := portal.Submission{
		Decision: ex.decision,
		Identity: id,
		Case:     ex.kase,
		Modality: ex.job.Modality,
	}
	for attempt := 0; ; attempt++ {
		if err := ex.checkpoint(ctx); err != nil {
			return err
		}

		// An in-flight portal call is never interrupted by cancellation.
		submitCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), ex.o.cfg.SubmitTimeout)
		res := ex.o.gateway.Submit(submitCtx, sub)
		cancel()
		if res.Outcome != portal.OutcomeUnreachable {
			used = true
		}

		if err := ex.checkpoint(ctx); errors.Is(err, errStopped) {
			return ex.recordAfterCancel(ctx, res)
		} else if err != nil {
			return err
		}

		switch res.Outcome {
		case portal.OutcomeSuccess:
			return ex.complete(ctx, res)
		case portal.OutcomeCaptchaBlocked:
			return ex.pauseForCaptcha(ctx, res)
		case portal.OutcomeRejected:
			return ex.fail(ctx, types.ErrCodePortalRejected, res.Reason, false)
		}

		if attempt >= ex.o.cfg.SubmitRetries {
			return ex.fail(ctx, types.ErrCodePortalUnreachable,
				fmt.Sprintf("portal unreachable after %d attempts: %s", attempt+1, res.Reason), true)
		}
		wait := ex.backoff(attempt)
		ex.warn(ctx, "portal unreachable (%s), retrying in %s", res.Reason, wait)
		if err := proxy.Sleep(ctx, wait); err != nil {
			return err
		}
	}
}

func (ex *execution) filingResult(ctx context.Context, res portal.Result) *types.FilingResult {
	fr := &types.FilingResult{
		Folio:            res.Folio,
		HearingDate:      res.HearingDate,
		HearingTime:      res.HearingTime,
		AuthorityName:    ex.decision.Authority.Name,
		AuthorityAddress: ex.decision.Authority.Address,
		PortalURL:        res.PortalURL,
		ReceiptURL:       res.ReceiptURL,
	}
	if fr.Folio != "" && fr.HearingDate == nil {
		d, err := ex.o.resolver.AdvanceBusinessDays(ctx, ex.o.now(), ex.o.cfg.HearingLeadBusinessDays)
		if err != nil {
			ex.log.WithError(err).Warn("failed to propose a hearing date")
		} else {
			fr.HearingDate = &d
			fr.HearingProposed = true
		}
	}
	return fr
}

func (ex *execution) complete(ctx context.Context, res portal.Result) error {
	fr := ex.filingResult(ctx, res)
	now := ex.o.now()
	job, err := ex.o.transition(ctx, ex.job.ID, func(j *types.Job) {
		j.Status = types.JobCompleted
		j.CurrentStep = types.StepCompleted
		j.Progress = progressDone
		j.CompletedAt = &now
		j.Result = fr
		j.Error = nil
	})
	if err != nil {
		return err
	}
	ex.job = job
	if fr.HearingProposed {
		ex.info(ctx, "filing accepted, folio %s; hearing proposed for %s", fr.Folio, fr.HearingDate.Format(time.DateOnly))
	} else {
		ex.info(ctx, "filing accepted, folio %s", fr.Folio)
	}
	return nil
}

func (ex *execution) pauseForCaptcha(ctx context.Context, res portal.Result) error {
	job, err := ex.o.transition(ctx, ex.job.ID, func(j *types.Job) {
		j.Status = types.JobPending
		j.CurrentStep = types.StepCaptchaPending
		j.Progress = progressSubmitted
		j.Result = &types.FilingResult{
			AuthorityName:    ex.decision.Authority.Name,
			AuthorityAddress: ex.decision.Authority.Address,
			PortalURL:        res.PortalURL,
		}
	})
	if err != nil {
		return err
	}
	ex.job = job
	ex.warn(ctx, "portal presented a CAPTCHA; filing paused until it is resolved manually")
	return nil
}

// recordAfterCancel logs what a submission returned after the job was
// cancelled and keeps an accepted filing's result on the record.
func (ex *execution) recordAfterCancel(ctx context.Context, res portal.Result) error {
	ex.warn(ctx, "portal answered %s after the job was cancelled", res.Outcome)
	if res.Outcome != portal.OutcomeSuccess {
		return errStopped
	}
	fr := ex.filingResult(ctx, res)
	job, err := ex.o.store.UpdateJob(context.WithoutCancel(ctx), ex.job.ID, func(j *types.Job) error {
		j.Result = fr
		return nil
	})
	if err != nil {
		return err
	}
	ex.o.publishJob(ctx, job)
	ex.info(ctx, "folio %s recorded on the cancelled job", fr.Folio)
	return errStopped
}

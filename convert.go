package repack

import (
	"context"

	"github.com/meigma/repack/runner"
)

type convertConfig struct {
	password   string
	name       string
	onProgress func(percent int)
	opts       []Option
}

// ConvertOption configures Convert.
type ConvertOption func(*convertConfig)

// ConvertWithPassword decrypts the input and, for 7z output, encrypts the
// result including its headers.
func ConvertWithPassword(password string) ConvertOption {
	return func(c *convertConfig) {
		c.password = password
	}
}

// ConvertWithName sets the input file name used to suggest Result.Name.
func ConvertWithName(name string) ConvertOption {
	return func(c *convertConfig) {
		c.name = name
	}
}

// ConvertWithProgress receives whole percentages as the job advances.
func ConvertWithProgress(fn func(percent int)) ConvertOption {
	return func(c *convertConfig) {
		c.onProgress = fn
	}
}

// ConvertWithRunnerOptions configures the runner Convert starts.
func ConvertWithRunnerOptions(opts ...Option) ConvertOption {
	return func(c *convertConfig) {
		c.opts = append(c.opts, opts...)
	}
}

// Convert runs a single conversion of input to target on a fresh runner.
// The caller must not modify input until Convert returns.
func Convert(ctx context.Context, input []byte, target Format, opts ...ConvertOption) (Result, error) {
	var cfg convertConfig
	for _, opt := range opts {
		opt(&cfg)
	}

	r, err := runner.New(cfg.opts...)
	if err != nil {
		return Result{}, err
	}
	defer r.Close()

	job, err := r.Submit(ctx, Request{
		Cmd:          runner.CmdConvert,
		TargetFormat: target.String(),
		Buffer:       input,
		Password:     cfg.password,
		Name:         cfg.name,
	})
	if err != nil {
		return Result{}, err
	}

	for {
		select {
		case msg, ok := <-job.Messages():
			if !ok {
				return job.Wait(ctx)
			}
			if msg.Type == runner.TypeProgress && cfg.onProgress != nil {
				cfg.onProgress(msg.Percent)
			}
		case <-ctx.Done():
			job.Cancel()
			<-job.Done()
			return Result{}, context.Cause(ctx)
		}
	}
}

package download

import (
	"errors"
	"fmt"
)

var (
	// ErrTooLarge is returned when the produced file exceeds the upload cap.
	ErrTooLarge = errors.New("media exceeds the upload size limit")
	// ErrNoOutput is returned when the downloader finished without leaving a file.
	ErrNoOutput = errors.New("downloader produced no file")
	// ErrQueueClosed is returned by queue operations after Close.
	ErrQueueClosed = errors.New("download queue closed")
	// ErrRefundFailed marks a Submit failure whose charge could not be returned.
	ErrRefundFailed = errors.New("refund failed")
)

// Stage names one step of the job pipeline.
type Stage string

const (
	StagePrepare   Stage = "prepare"
	StageFetch     Stage = "fetch"
	StageLocate    Stage = "locate"
	StageTranscode Stage = "transcode"
	StageSize      Stage = "size"
	StageSend      Stage = "send"
	StageInternal  Stage = "internal"
)

// PipelineError reports the stage at which a job failed.
type PipelineError struct {
	Stage Stage
	Err   error
}

func (e *PipelineError) Error() string {
	return fmt.Sprintf("%s: %v", e.Stage, e.Err)
}

func (e *PipelineError) Unwrap() error {
	return e.Err
}

func stageError(stage Stage, err error) error {
	if err == nil {
		return nil
	}
	var pe *PipelineError
	if errors.As(err, &pe) {
		return err
	}
	return &PipelineError{Stage: stage, Err: err}
}

// userReason renders the failure for the chat.
func userReason(err error) string {
	switch {
	case errors.Is(err, ErrTooLarge):
		return "o arquivo passou do limite de envio"
	case errors.Is(err, ErrNoOutput):
		return "nenhum arquivo foi gerado"
	}
	var pe *PipelineError
	if errors.As(err, &pe) {
		switch pe.Stage {
		case StageFetch:
			return "não foi possível baixar a mídia"
		case StageTranscode:
			return "não foi possível converter o áudio"
		case StageSend:
			return "não foi possível enviar o arquivo"
		}
	}
	return "erro interno"
}

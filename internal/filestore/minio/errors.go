package minio

import (
	"context"
	"errors"
	"net/http"

	"github.com/koustreak/orma/internal/errs"
	minioErr "github.com/minio/minio-go/v7"
)

// mapError translates a MinIO SDK error into a *errs.Error, the same way
// the database backends map their driver errors.
func mapError(err error, msg string) *errs.Error {
	if err == nil {
		return nil
	}

	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return errs.Wrap(errs.ErrKindTimeout, msg, err)
	}

	var resp minioErr.ErrorResponse
	if errors.As(err, &resp) {
		switch resp.Code {
		case "NoSuchBucket", "NoSuchKey", "NoSuchUpload":
			return errs.Wrap(errs.ErrKindNotFound, msg, err).WithCode(resp.Code)
		case "InvalidBucketName", "InvalidObjectName", "KeyTooLongError":
			return errs.Wrap(errs.ErrKindInvalidInput, msg, err).WithCode(resp.Code)
		case "RequestTimeout", "SlowDown":
			return errs.Wrap(errs.ErrKindTimeout, msg, err).WithCode(resp.Code)
		}

		switch resp.StatusCode {
		case http.StatusNotFound:
			return errs.Wrap(errs.ErrKindNotFound, msg, err).WithCode(resp.Code)
		case http.StatusBadRequest:
			return errs.Wrap(errs.ErrKindInvalidInput, msg, err).WithCode(resp.Code)
		}
		// Denied credentials surface as a connection failure: the store is
		// unusable until the configuration changes.
		return errs.Wrap(errs.ErrKindConnectionFailed, msg, err).WithCode(resp.Code)
	}

	return errs.Wrap(errs.ErrKindConnectionFailed, msg, err)
}

package core

import (
	"errors"
)

var (
	ErrUnknown = errors.New("unknown")

	// configuration errors, detected before a frame is submitted
	ErrMissingExecuteFunc     = errors.New("pass has no execute function")
	ErrInvalidAttachments     = errors.New("render target attachments are not contiguous")
	ErrMissingDepthAttachment = errors.New("raster pass has neither color nor depth attachment")
	ErrPassNotDisposed        = errors.New("pass builder was not disposed before execute")
	ErrInvalidPassSetup       = errors.New("invalid pass setup")

	// lifetime violations
	ErrResourceAlreadyCreated = errors.New("resource already created")
	ErrResourceNotCreated     = errors.New("resource was never created")
	ErrStaleHandle            = errors.New("resource handle belongs to another frame")
	ErrInvalidHandle          = errors.New("invalid resource handle")

	// synchronization violations
	ErrAsyncPassNotSynchronized = errors.New("async compute pass never synchronized with the graphics queue")

	ErrFrameFailed  = errors.New("frame failed")
	ErrPassPanicked = errors.New("pass execute function panicked")

	ErrBackendUnavailable = errors.New("renderer backend unavailable")
	ErrInvalidConfig      = errors.New("invalid configuration")
)

package notes

import "errors"

var (
	// ErrNoRenderableAttachment means the document has no attachment the
	// renderer can display. It is an expected outcome, not a fault.
	ErrNoRenderableAttachment = errors.New("notes: no renderable attachment")

	// ErrAttachmentResolution means an attachment has neither usable inline
	// data nor a Binary reference, or its payload could not be decoded.
	ErrAttachmentResolution = errors.New("notes: attachment could not be resolved")

	// ErrUnsupportedContentType is returned when render is reached with a
	// content type the selector should already have rejected.
	ErrUnsupportedContentType = errors.New("notes: unsupported content type")

	// ErrConversionFailed wraps failures of the PDF conversion service and
	// the CDA stylesheet transform.
	ErrConversionFailed = errors.New("notes: conversion failed")
)

package apperr

import (
	"errors"
	"fmt"
)

const (
	MetaReason      = "reason"
	MetaStage       = "stage"
	MetaField       = "field"
	MetaSelector    = "selector"
	MetaURL         = "url"
	MetaProvider    = "provider"
	MetaModel       = "model"
	MetaStatusCode  = "status_code"
	MetaBodyExcerpt = "body_excerpt"
	MetaRawExcerpt  = "raw_excerpt"

	StagePreparation = "preparation"
	StageBrowser     = "browser"
	StageVision      = "vision"
	StageExtraction  = "extraction"
	StageGeometry    = "geometry"
	StageScreenshot  = "screenshot"
	StageNavigation  = "navigation"
	StageInteraction = "interaction"

	CodeInternal        = "internal"
	CodeInvalidArgument = "invalid_argument"
	CodeNotFound        = "not_found"
	CodeCancelledByUser = "cancelled_by_user"
	CodeBrowserNotReady = "browser_not_ready"
	CodeActionFailed    = "action_failed"

	CodeGeometry        = "geometry"
	CodeNormalizer      = "normalizer"
	CodeParse           = "parse"
	CodeExtraction      = "extraction"
	CodeProvider        = "provider"
	CodeProviderTimeout = "provider_timeout"
	CodeConfiguration   = "configuration"
)

// excerptLimit bounds any provider or model text carried in an error.
const excerptLimit = 200

type Error struct {
	Op       string
	Code     string
	Err      error
	Metadata map[string]any
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	}

	return e.Op
}

func (e *Error) Unwrap() error {
	return e.Err
}

func Wrap(op, code string, err error, metadata map[string]any) error {
	if metadata == nil {
		metadata = make(map[string]any)
	}

	return &Error{
		Op:       op,
		Code:     code,
		Err:      err,
		Metadata: metadata,
	}
}

func WrapWithReason(op, code string, err error, reason string) error {
	return Wrap(op, code, err, map[string]any{
		MetaReason: reason,
	})
}

func WrapErrorWithReason(op, code, reason string) error {
	return Wrap(op, code, errors.New(reason), map[string]any{
		MetaReason: reason,
	})
}

func InvalidReqError(op, field string, err error) error {
	return Wrap(op, CodeInvalidArgument, err, map[string]any{
		MetaField:  field,
		MetaReason: "invalid_request",
	})
}

func NotFoundError(op string, err error) error {
	return Wrap(op, CodeNotFound, err, map[string]any{
		MetaReason: "not_found",
	})
}

func GeometryError(op, reason string, err error) error {
	return Wrap(op, CodeGeometry, err, map[string]any{
		MetaReason: reason,
		MetaStage:  StageGeometry,
	})
}

func NormalizerError(op, reason string, err error) error {
	return Wrap(op, CodeNormalizer, err, map[string]any{
		MetaReason: reason,
		MetaStage:  StageGeometry,
	})
}

func ParseError(op, field string, err error) error {
	return Wrap(op, CodeParse, err, map[string]any{
		MetaReason: "non_numeric_value",
		MetaField:  field,
		MetaStage:  StageExtraction,
	})
}

// ExtractionError keeps only an excerpt of the raw model text.
func ExtractionError(op, reason, raw string) error {
	return Wrap(op, CodeExtraction, errors.New(reason), map[string]any{
		MetaReason:     reason,
		MetaStage:      StageExtraction,
		MetaRawExcerpt: Excerpt(raw),
	})
}

func ProviderError(op string, statusCode int, body string) error {
	return Wrap(op, CodeProvider, fmt.Errorf("provider returned status %d", statusCode), map[string]any{
		MetaReason:      "api_error",
		MetaStage:       StageVision,
		MetaStatusCode:  statusCode,
		MetaBodyExcerpt: Excerpt(body),
	})
}

func ProviderTimeoutError(op string, err error) error {
	return Wrap(op, CodeProviderTimeout, err, map[string]any{
		MetaReason: "timeout",
		MetaStage:  StageVision,
	})
}

func ConfigurationError(op, reason string) error {
	return Wrap(op, CodeConfiguration, errors.New(reason), map[string]any{
		MetaReason: reason,
		MetaStage:  StagePreparation,
	})
}

// CodeOf returns the code of the outermost *Error in the chain, or "" if there is none.
func CodeOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}

	return ""
}

// IsCode reports whether any *Error in the chain carries code.
func IsCode(err error, code string) bool {
	for err != nil {
		var e *Error
		if !errors.As(err, &e) {
			return false
		}

		if e.Code == code {
			return true
		}

		err = e.Err
	}

	return false
}

func Excerpt(s string) string {
	r := []rune(s)
	if len(r) <= excerptLimit {
		return s
	}

	return string(r[:excerptLimit]) + "..."
}

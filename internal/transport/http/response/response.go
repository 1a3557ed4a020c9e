package response

import "github.com/gin-gonic/gin"

const (
	CodeOK               = 0
	CodeBadRequest       = 40000
	CodeNotPDF           = 40001
	CodeEmptyFile        = 40002
	CodeQuestionRequired = 40003
	CodeUnauthorized     = 40100
	CodeNotFound         = 40400
	CodeDocumentNotFound = 40401
	CodeDocumentNotReady = 40900
	CodeFileTooLarge     = 41300
	CodeRateLimited      = 42900
	CodeInternalServer   = 50000
	CodeProvider         = 50200
	CodeUnavailable      = 50300
	CodeTimeout          = 50400
)

type APIResponse struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

func OK(c *gin.Context, data interface{}) {
	c.JSON(200, APIResponse{
		Code:    CodeOK,
		Message: "ok",
		Data:    data,
	})
}

func Error(c *gin.Context, httpStatus, code int, message string) {
	c.JSON(httpStatus, APIResponse{
		Code:    code,
		Message: message,
	})
}

// ErrorWithData is Error carrying a payload, e.g. the document left behind by a failed dispatch.
func ErrorWithData(c *gin.Context, httpStatus, code int, message string, data interface{}) {
	c.JSON(httpStatus, APIResponse{
		Code:    code,
		Message: message,
		Data:    data,
	})
}

package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/hitoshi/hwledger/internal/middleware"
	"github.com/hitoshi/hwledger/internal/model"
)

// maxRequestBodyBytes はリクエストボディの最大サイズ。
const maxRequestBodyBytes = 1 << 20

// validate はリクエストDTO共通のバリデーター。エラーのフィールド名にはJSONタグ名を使う。
var validate *validator.Validate

func init() {
	validate = validator.New(validator.WithRequiredStructEnabled())
	validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name, _, _ := strings.Cut(fld.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
}

// decodeJSON はリクエストボディをデコードし、validate タグで検証する。
// 失敗した場合は InvalidArgument のAPIErrorを返す。
// allowEmpty が true の場合、空ボディはゼロ値として扱う。
func decodeJSON(r *http.Request, dst interface{}, allowEmpty bool) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxRequestBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if !(allowEmpty && errors.Is(err, io.EOF)) {
			return model.NewInvalidRequestError("リクエストボディの解析に失敗しました")
		}
	}

	if err := validate.Struct(dst); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			return model.NewInvalidRequestError(describeValidationErrors(verrs))
		}
		return model.NewInvalidRequestError(err.Error())
	}
	return nil
}

// describeValidationErrors は検証エラーをフィールド名付きの文字列にまとめる。
func describeValidationErrors(verrs validator.ValidationErrors) string {
	parts := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		if fe.Param() != "" {
			parts = append(parts, fmt.Sprintf("%s は %s=%s を満たす必要があります", fe.Field(), fe.Tag(), fe.Param()))
		} else {
			parts = append(parts, fmt.Sprintf("%s は %s を満たす必要があります", fe.Field(), fe.Tag()))
		}
	}
	return strings.Join(parts, ", ")
}

// writeJSON はJSONレスポンスを書き込む。
func writeJSON(w http.ResponseWriter, statusCode int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(body)
}

// principalFrom はリクエストの認証済みユーザーを返す。
// 認証ミドルウェアを通っていない場合は 401 を書き込み false を返す。
func principalFrom(w http.ResponseWriter, r *http.Request) (*model.Principal, bool) {
	p, err := middleware.PrincipalFromContext(r.Context())
	if err != nil {
		middleware.WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthenticatedError())
		return nil, false
	}
	return p, true
}

// handleServiceError はサービス層から返されたエラーを適切なHTTPステータスコードに変換する。
func handleServiceError(w http.ResponseWriter, r *http.Request, err error) {
	middleware.WriteError(w, r, err)
}

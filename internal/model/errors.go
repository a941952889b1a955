// Package model はドメインモデルを定義する。
package model

import (
	"errors"
	"fmt"
)

// ErrorKind は呼び出し元が機械的に判別できるエラー種別を表す。
type ErrorKind string

const (
	// KindUnauthenticated は認証情報が無い、または無効であることを示す。
	KindUnauthenticated ErrorKind = "unauthenticated"
	// KindUnauthorized は認証済みだがプロジェクト権限が不足していることを示す。
	KindUnauthorized ErrorKind = "unauthorized"
	// KindNotFound はプロジェクト・ハードウェアセット・ユーザーが存在しないことを示す。
	KindNotFound ErrorKind = "not_found"
	// KindInvalidArgument は数量やペイロードが不正であることを示す。
	KindInvalidArgument ErrorKind = "invalid_argument"
	// KindCapacityViolation は操作が [0, capacity] の範囲を破ることを示す。
	KindCapacityViolation ErrorKind = "capacity_violation"
	// KindConflict は重複作成を示す。
	KindConflict ErrorKind = "conflict"
	// KindInternal はAPIError以外のエラーを分類した場合の種別。
	KindInternal ErrorKind = "internal"
)

// APIError は統一エラーフォーマットを表す。
// UIに表示する原因カテゴリと対処方法を含む。
type APIError struct {
	Kind     ErrorKind // エラー種別
	Code     string    // エラーコード
	Message  string    // エラーメッセージ
	Category string    // カテゴリ: auth, validation, project, hardware, system
	Action   string    // ユーザー向け対処方法
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// KindOf はエラーチェーンからAPIErrorを探し、その種別を返す。
// APIErrorを含まない場合はKindInternalを返す。
func KindOf(err error) ErrorKind {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Kind
	}
	return KindInternal
}

// IsKind はエラーが指定種別のAPIErrorかどうかを判定する。
func IsKind(err error, kind ErrorKind) bool {
	return err != nil && KindOf(err) == kind
}

// 定義済みエラーコード
const (
	ErrCodeUnauthenticated      = "UNAUTHENTICATED"
	ErrCodeInvalidCredentials   = "INVALID_CREDENTIALS"
	ErrCodeNotAuthorized        = "NOT_AUTHORIZED"
	ErrCodeAdminRequired        = "ADMIN_REQUIRED"
	ErrCodeProjectNotFound      = "PROJECT_NOT_FOUND"
	ErrCodeHardwareSetNotFound  = "HWSET_NOT_FOUND"
	ErrCodeHardwareSetNotLinked = "HWSET_NOT_IN_PROJECT"
	ErrCodeInvalidQuantity      = "INVALID_QUANTITY"
	ErrCodeInvalidCapacity      = "INVALID_CAPACITY"
	ErrCodeInvalidInitialStock  = "INVALID_INITIAL_STOCK"
	ErrCodeInvalidRequest       = "INVALID_REQUEST"
	ErrCodeCapacityExceeded     = "CAPACITY_EXCEEDED"
	ErrCodeInsufficientUnits    = "INSUFFICIENT_UNITS"
	ErrCodeCapacityBelowInUse   = "CAPACITY_BELOW_AVAILABLE"
	ErrCodeDuplicateProject     = "DUPLICATE_PROJECT"
	ErrCodeDuplicateUser        = "DUPLICATE_USER"
)

// NewUnauthenticatedError は認証エラーを生成する。
func NewUnauthenticatedError() *APIError {
	return &APIError{
		Kind:     KindUnauthenticated,
		Code:     ErrCodeUnauthenticated,
		Message:  "認証が必要です。",
		Category: "auth",
		Action:   "ログインしてください。",
	}
}

// NewInvalidCredentialsError はユーザー名またはパスワード不一致のエラーを生成する。
// どちらが誤っているかは区別しない。
func NewInvalidCredentialsError() *APIError {
	return &APIError{
		Kind:     KindUnauthenticated,
		Code:     ErrCodeInvalidCredentials,
		Message:  "ユーザー名またはパスワードが正しくありません。",
		Category: "auth",
		Action:   "入力内容を確認して再度ログインしてください。",
	}
}

// NewNotAuthorizedError はプロジェクトのメンバーでないユーザーによる操作のエラーを生成する。
func NewNotAuthorizedError(username, projectName string) *APIError {
	return &APIError{
		Kind:     KindUnauthorized,
		Code:     ErrCodeNotAuthorized,
		Message:  fmt.Sprintf("ユーザー %s はプロジェクト %s のハードウェアを操作する権限がありません。", username, projectName),
		Category: "auth",
		Action:   "プロジェクトに参加してから再度お試しください。",
	}
}

// NewAdminRequiredError は管理者専用操作のエラーを生成する。
func NewAdminRequiredError() *APIError {
	return &APIError{
		Kind:     KindUnauthorized,
		Code:     ErrCodeAdminRequired,
		Message:  "この操作には管理者権限が必要です。",
		Category: "auth",
		Action:   "管理者に依頼してください。",
	}
}

// NewProjectNotFoundError はプロジェクト未検出エラーを生成する。
func NewProjectNotFoundError(ref string) *APIError {
	return &APIError{
		Kind:     KindNotFound,
		Code:     ErrCodeProjectNotFound,
		Message:  fmt.Sprintf("指定されたプロジェクトが見つかりません: %s", ref),
		Category: "project",
		Action:   "プロジェクトIDを確認してください。",
	}
}

// NewHardwareSetNotFoundError はハードウェアセット未検出エラーを生成する。
func NewHardwareSetNotFoundError(id string) *APIError {
	return &APIError{
		Kind:     KindNotFound,
		Code:     ErrCodeHardwareSetNotFound,
		Message:  fmt.Sprintf("指定されたハードウェアセットが見つかりません: %s", id),
		Category: "hardware",
		Action:   "ハードウェアセットIDを確認してください。",
	}
}

// NewHardwareSetNotLinkedError はプロジェクトが参照していないハードウェアセットを指定した場合のエラーを生成する。
func NewHardwareSetNotLinkedError(hwsetRef, projectName string) *APIError {
	return &APIError{
		Kind:     KindInvalidArgument,
		Code:     ErrCodeHardwareSetNotLinked,
		Message:  fmt.Sprintf("ハードウェアセット %s はプロジェクト %s に登録されていません。", hwsetRef, projectName),
		Category: "validation",
		Action:   "プロジェクトに登録されたハードウェアセットを指定してください。",
	}
}

// NewInvalidQuantityError は数量が正でない場合のエラーを生成する。
func NewInvalidQuantityError(qty int) *APIError {
	return &APIError{
		Kind:     KindInvalidArgument,
		Code:     ErrCodeInvalidQuantity,
		Message:  fmt.Sprintf("無効な数量です: %d", qty),
		Category: "validation",
		Action:   "1以上の整数を指定してください。",
	}
}

// NewInvalidCapacityError は容量が [0, MaxCapacity] の範囲外の場合のエラーを生成する。
func NewInvalidCapacityError(capacity int) *APIError {
	return &APIError{
		Kind:     KindInvalidArgument,
		Code:     ErrCodeInvalidCapacity,
		Message:  fmt.Sprintf("無効な容量です: %d", capacity),
		Category: "validation",
		Action:   fmt.Sprintf("0以上%d以下の整数を指定してください。", MaxCapacity),
	}
}

// NewInvalidInitialStockError は初期在庫ポリシーが未指定または不正な場合のエラーを生成する。
func NewInvalidInitialStockError(value string) *APIError {
	return &APIError{
		Kind:     KindInvalidArgument,
		Code:     ErrCodeInvalidInitialStock,
		Message:  fmt.Sprintf("無効な初期在庫ポリシーです: %q", value),
		Category: "validation",
		Action:   "initial_stock には empty または full を指定してください。",
	}
}

// NewInvalidRequestError はリクエスト内容の検証エラーを生成する。
func NewInvalidRequestError(reason string) *APIError {
	return &APIError{
		Kind:     KindInvalidArgument,
		Code:     ErrCodeInvalidRequest,
		Message:  fmt.Sprintf("リクエストが不正です: %s", reason),
		Category: "validation",
		Action:   "入力内容を確認してください。",
	}
}

// NewCapacityExceededError はチェックインによって容量を超える場合のエラーを生成する。
func NewCapacityExceededError(hwsetName string, qty, available, capacity int) *APIError {
	return &APIError{
		Kind:     KindCapacityViolation,
		Code:     ErrCodeCapacityExceeded,
		Message:  fmt.Sprintf("%s に %d 台をチェックインすると容量を超えます（利用可能 %d / 容量 %d）。", hwsetName, qty, available, capacity),
		Category: "hardware",
		Action:   "数量を減らして再度お試しください。",
	}
}

// NewInsufficientUnitsError はチェックアウトに必要な台数が不足している場合のエラーを生成する。
func NewInsufficientUnitsError(hwsetName string, qty, available int) *APIError {
	return &APIError{
		Kind:     KindCapacityViolation,
		Code:     ErrCodeInsufficientUnits,
		Message:  fmt.Sprintf("%s の利用可能台数が不足しています（要求 %d / 利用可能 %d）。", hwsetName, qty, available),
		Category: "hardware",
		Action:   "数量を減らして再度お試しください。",
	}
}

// NewCapacityBelowAvailableError は容量を利用可能台数より小さくしようとした場合のエラーを生成する。
func NewCapacityBelowAvailableError(capacity, available int) *APIError {
	return &APIError{
		Kind:     KindCapacityViolation,
		Code:     ErrCodeCapacityBelowInUse,
		Message:  fmt.Sprintf("容量 %d は現在の利用可能台数 %d を下回ります。", capacity, available),
		Category: "hardware",
		Action:   "先にチェックアウトで利用可能台数を減らしてください。",
	}
}

// NewDuplicateProjectError は同名プロジェクトが既に存在する場合のエラーを生成する。
func NewDuplicateProjectError(name string) *APIError {
	return &APIError{
		Kind:     KindConflict,
		Code:     ErrCodeDuplicateProject,
		Message:  fmt.Sprintf("プロジェクト %s は既に存在します。", name),
		Category: "project",
		Action:   "別のプロジェクト名を指定してください。",
	}
}

// NewDuplicateUserError はユーザー名が既に登録されている場合のエラーを生成する。
func NewDuplicateUserError(username string) *APIError {
	return &APIError{
		Kind:     KindConflict,
		Code:     ErrCodeDuplicateUser,
		Message:  fmt.Sprintf("ユーザー %s は既に存在します。", username),
		Category: "auth",
		Action:   "別のユーザー名を指定してください。",
	}
}

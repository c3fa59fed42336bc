// Package validate は入力構造体のバリデーションとエラーメッセージへの変換を提供する。
package validate

import (
	"errors"

	"github.com/go-playground/validator/v10"
)

// Messages は "フィールド名.タグ" をキーとしたエラーメッセージの対応表。
// "タグ" のみのキーはフィールドを問わずに適用される。
type Messages map[string]string

// Validator はstructタグに基づくバリデーションを行う。
// 内部のvalidator.Validateはキャッシュを持つため、1インスタンスを使い回すこと。
type Validator struct {
	v *validator.Validate
}

// New はValidatorを生成する。
func New() *Validator {
	return &Validator{v: validator.New(validator.WithRequiredStructEnabled())}
}

// Struct はsを検証し、最初の違反に対応するメッセージを返す。違反がなければ空文字列を返す。
// 対応表にないタグはfallbackを返す。
func (v *Validator) Struct(s any, messages Messages, fallback string) (string, error) {
	err := v.v.Struct(s)
	if err == nil {
		return "", nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return "", err
	}

	// requiredを優先する（複数フィールドが空の場合にまとめて報告するため）
	for _, fe := range verrs {
		if fe.Tag() == "required" {
			if msg, ok := lookup(messages, fe); ok {
				return msg, nil
			}
		}
	}
	for _, fe := range verrs {
		if msg, ok := lookup(messages, fe); ok {
			return msg, nil
		}
	}
	return fallback, nil
}

func lookup(messages Messages, fe validator.FieldError) (string, bool) {
	if msg, ok := messages[fe.StructField()+"."+fe.Tag()]; ok {
		return msg, true
	}
	msg, ok := messages[fe.Tag()]
	return msg, ok
}

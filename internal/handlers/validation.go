package handlers

import "fmt"

// requireID は識別子パラメータを正規化して検証します
// 前後の空白を除去した結果が空の場合はフィールド名入りのエラーを返します
func requireID(field, raw string) (string, error) {
	id := normalizeID(raw)
	if id == "" {
		return "", fmt.Errorf("%s required", field)
	}
	return id, nil
}

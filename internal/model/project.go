package model

import (
	"slices"
	"time"
)

// Project は共同プロジェクトを表す。
// ハードウェアの数量は保持せず、ハードウェアセットへの参照のみを持つ。
type Project struct {
	ID              string
	Name            string
	Description     string
	HardwareSetIDs  []string
	AuthorizedUsers []string
	CreatedBy       string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// HasHardwareSet はプロジェクトが指定ハードウェアセットを参照しているかを判定する。
func (p *Project) HasHardwareSet(hwsetID string) bool {
	return slices.Contains(p.HardwareSetIDs, hwsetID)
}

// IsMember は指定ユーザーがプロジェクトのメンバーかどうかを判定する。
func (p *Project) IsMember(userID string) bool {
	return slices.Contains(p.AuthorizedUsers, userID)
}

// ProjectView はプロジェクトと、参照先ハードウェアセットの読み取り時点の状態を結合したもの。
type ProjectView struct {
	Project
	HardwareSets []HardwareSet
}

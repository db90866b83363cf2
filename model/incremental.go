package model

import (
	"github.com/rushteam/recore/core"
)

// Updater 对单条交互做一步在线 SGD，派生新快照后 CAS 发布。
//
// 约束：
//   - 用户或物品不在当前快照中时跳过（等下一次全量重训收编）
//   - 更新不产生新版本号，只是重训间隙的工作副本
//   - 与全量重训发布竞争时增量结果被丢弃
type Updater struct {
	pub *Publisher
	cfg TrainerConfig
}

// NewUpdater 创建增量更新器，超参须与训练器一致。
func NewUpdater(pub *Publisher, cfg TrainerConfig) *Updater {
	cfg.normalize()
	return &Updater{pub: pub, cfg: cfg}
}

// Apply 以 weight 为目标值对 (userID, itemID) 做一步 SGD。
// 返回更新是否被发布。
func (u *Updater) Apply(userID, itemID string, weight float64) bool {
	return u.pub.ApplyDelta(func(cur *core.FactorSnapshot) *core.FactorSnapshot {
		uf, ok := cur.UserFactors[userID]
		if !ok {
			return nil
		}
		itf, ok := cur.ItemFactors[itemID]
		if !ok {
			return nil
		}

		bu := cur.UserBias[userID]
		bi := cur.ItemBias[itemID]
		pred := cur.GlobalBias + bu + bi + core.Dot(uf, itf)
		e := weight - pred

		lr := u.cfg.LearningRate
		reg := u.cfg.Regularization

		newUF := make([]float64, len(uf))
		newIF := make([]float64, len(itf))
		for f := range uf {
			newUF[f] = uf[f] + lr*(e*itf[f]-reg*uf[f])
			newIF[f] = itf[f] + lr*(e*uf[f]-reg*itf[f])
		}
		newBU := bu + lr*(e-reg*bu)
		newBI := bi + lr*(e-reg*bi)

		return cur.DeriveWithVectors(userID, newUF, newBU, itemID, newIF, newBI)
	})
}

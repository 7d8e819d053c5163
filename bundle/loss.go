package bundle

import (
	"math"

	"go.viam.com/sfm/config"
)

// loss is a robust function of the squared residual norm s. rho is the cost and weight its
// derivative, used as the IRLS weight of the residual.
type loss interface {
	rho(s float64) float64
	weight(s float64) float64
}

type trivialLoss struct{}

func (trivialLoss) rho(s float64) float64    { return s }
func (trivialLoss) weight(s float64) float64 { return 1 }

type huberLoss struct{ a2 float64 }

func (l huberLoss) rho(s float64) float64 {
	if s <= l.a2 {
		return s
	}
	return 2*math.Sqrt(l.a2*s) - l.a2
}

func (l huberLoss) weight(s float64) float64 {
	if s <= l.a2 {
		return 1
	}
	return math.Sqrt(l.a2 / s)
}

type softLOneLoss struct{ a2 float64 }

func (l softLOneLoss) rho(s float64) float64 {
	return 2 * l.a2 * (math.Sqrt(1+s/l.a2) - 1)
}

func (l softLOneLoss) weight(s float64) float64 {
	return 1 / math.Sqrt(1+s/l.a2)
}

type cauchyLoss struct{ a2 float64 }

func (l cauchyLoss) rho(s float64) float64 {
	return l.a2 * math.Log1p(s/l.a2)
}

func (l cauchyLoss) weight(s float64) float64 {
	return 1 / (1 + s/l.a2)
}

func newLoss(name config.LossFunction, threshold float64) loss {
	a2 := threshold * threshold
	if a2 <= 0 {
		return trivialLoss{}
	}
	switch name {
	case config.LossHuber:
		return huberLoss{a2}
	case config.LossSoftLOne:
		return softLOneLoss{a2}
	case config.LossCauchy:
		return cauchyLoss{a2}
	case config.LossTrivial:
		return trivialLoss{}
	default:
		return trivialLoss{}
	}
}

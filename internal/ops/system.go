package ops

import (
	"raygate/internal/models"
)

type EngineInfoReply struct {
	Status
	Engine models.EngineInfo `json:"engine"`
	Binary string            `json:"binary"`
}

// EngineInfo probes the engine binary's version.
func (o *Ops) EngineInfo() EngineInfoReply {
	info := o.sup.CheckAvailability()
	msg := "Engine is available"
	if !info.Available {
		msg = "Engine is not available"
	}
	return EngineInfoReply{
		Status: success(msg),
		Engine: info,
		Binary: o.sup.EffectiveBinary(),
	}
}

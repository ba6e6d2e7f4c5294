package ops

import (
	"raygate/internal/models"

	"go.uber.org/zap"
)

type SettingsReply struct {
	Status
	Settings models.Settings `json:"settings"`
}

// SettingsPatch applies partial updates; nil fields are left unchanged.
// A port value of 0 clears the override.
type SettingsPatch struct {
	SocksPort       *int             `json:"socks_port"`
	HTTPPort        *int             `json:"http_port"`
	EngineBinary    *string          `json:"engine_binary"`
	EngineAssetsDir *string          `json:"engine_assets_dir"`
	EngineLogLevel  *models.LogLevel `json:"engine_log_level"`
	SystemProxy     *bool            `json:"system_proxy"`
}

func (o *Ops) GetSettings() SettingsReply {
	return SettingsReply{
		Status:   success("Settings retrieved successfully"),
		Settings: *o.store.GetSettings(),
	}
}

// UpdateSettings persists the patch and restarts the current server so the
// new overrides take effect.
func (o *Ops) UpdateSettings(patch SettingsPatch) SettingsReply {
	settings := o.store.GetSettings()

	if patch.SocksPort != nil {
		if *patch.SocksPort == 0 {
			settings.SocksPort = nil
		} else {
			settings.SocksPort = patch.SocksPort
		}
	}
	if patch.HTTPPort != nil {
		if *patch.HTTPPort == 0 {
			settings.HTTPPort = nil
		} else {
			settings.HTTPPort = patch.HTTPPort
		}
	}
	if patch.EngineBinary != nil {
		settings.EngineBinary = *patch.EngineBinary
	}
	if patch.EngineAssetsDir != nil {
		settings.EngineAssetsDir = *patch.EngineAssetsDir
	}
	if patch.EngineLogLevel != nil {
		settings.EngineLogLevel = *patch.EngineLogLevel
	}
	if patch.SystemProxy != nil {
		settings.SystemProxy = *patch.SystemProxy
	}

	if err := o.store.UpdateSettings(settings); err != nil {
		return SettingsReply{Status: failure(err.Error())}
	}

	o.restartCurrentWith(settings)

	return SettingsReply{
		Status:   success("Settings updated successfully"),
		Settings: *settings,
	}
}

// restartCurrentWith restarts the running server, if any, with fresh
// overrides. Failures are logged, not surfaced: the settings update itself
// already succeeded.
func (o *Ops) restartCurrentWith(settings *models.Settings) {
	info := o.sup.CurrentInfo()
	if info == nil || !o.sup.IsRunning(info.ServerID) {
		return
	}

	server := o.store.GetServer(info.SubscriptionID, info.ServerID)
	if server == nil {
		return
	}

	if err := o.sup.Restart(info.ServerID, info.SubscriptionID, server.Raw, settings.SocksPort, settings.HTTPPort); err != nil {
		zap.S().Warnw("failed to restart server after settings update", "server", info.ServerID, "error", err)
		return
	}
	zap.S().Infow("server restarted after settings update", "server", info.ServerID)
}

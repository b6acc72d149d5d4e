package main

import (
	"github.com/gbdevw/gowsengine/cmd/wsechoserver/configuration"
	"github.com/gbdevw/gowsengine/cmd/wsechoserver/providers"
	"github.com/gbdevw/gowsengine/echowsserver"
	"go.uber.org/fx"
)

func main() {
	fx.New(
		fx.Provide(configuration.LoadConfiguration),
		fx.Provide(providers.ProvideLogger),
		fx.Provide(providers.ProvideTracerProvider),
		fx.Provide(providers.ProvideEchoServer),
		// Use invoke to force dependency to be instanciated and hooks to be registered and executed
		fx.Invoke(func(*echowsserver.EchoWebsocketServer) {}),
	).Run()
}

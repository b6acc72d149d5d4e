package providers

import (
	"context"
	"net/http"

	"github.com/gbdevw/gowsengine/cmd/wsechoserver/configuration"
	"github.com/gbdevw/gowsengine/echowsserver"
	"github.com/gbdevw/gowsengine/wsdispatcher"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

func ProvideEchoServer(lc fx.Lifecycle, config configuration.Configuration, tp trace.TracerProvider, logger *zap.Logger) (*echowsserver.EchoWebsocketServer, error) {
	opts := wsdispatcher.NewDispatcherConfigurationOptions().WithMaxFrameSize(config.MaxFrameSize)
	srv, err := echowsserver.NewEchoWebsocketServer(&http.Server{Addr: config.Address}, opts, tp, otel.GetMeterProvider(), logger)
	if err != nil {
		return nil, err
	}
	// Register Start and Stop hooks to Start and Stop the server
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			return srv.Start()
		},
		OnStop: func(ctx context.Context) error {
			return srv.Stop()
		},
	})
	return srv, nil
}

package main

import (
	"fmt"
	"net/http"
	"net/url"

	"github.com/kokukuma/mdoc-age-verifier/internal/cryptoroot"
	"github.com/kokukuma/mdoc-age-verifier/internal/server"
	"github.com/kokukuma/mdoc-age-verifier/internal/session"
	"github.com/kokukuma/mdoc-age-verifier/internal/verifier"
	"github.com/kokukuma/mdoc-age-verifier/internal/zkverifier"
	"github.com/kokukuma/mdoc-age-verifier/mdoc"
	"github.com/kokukuma/mdoc-age-verifier/openid4vp"
	"github.com/kokukuma/mdoc-age-verifier/session_transcript"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const zkVerifierMessage = "challenge"

type httpServerRunner interface {
	ListenAndServe(host string, router http.Handler) error
}

type httpServer struct{}

func (s *httpServer) ListenAndServe(host string, router http.Handler) error {
	return http.ListenAndServe(host, router)
}

func getStartCmd(srv httpServerRunner) *cobra.Command {
	startCmd := &cobra.Command{
		Use:   "start",
		Short: "Start the age verifier",
		RunE: func(cmd *cobra.Command, args []string) error {
			params, err := getServerParameters(cmd)
			if err != nil {
				return err
			}
			reg := prometheus.NewRegistry()
			reg.MustRegister(
				collectors.NewGoCollector(),
				collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
			)
			return startServer(params, srv, reg)
		},
	}
	createFlags(startCmd)
	return startCmd
}

func newLogger(level string) (*zap.Logger, error) {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, fmt.Errorf("invalid %s: %w", logLevelFlagName, err)
	}
	if lvl == zapcore.DebugLevel {
		return zap.NewDevelopment()
	}
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	return cfg.Build()
}

func startServer(p *serverParameters, srv httpServerRunner, reg *prometheus.Registry) error {
	logger, err := newLogger(p.logLevel)
	if err != nil {
		return err
	}
	defer logger.Sync()

	handler, closeFn, err := buildHandler(p, logger, reg)
	if err != nil {
		return err
	}
	defer closeFn()

	logger.Info("starting age verifier", zap.String("address", p.hostURL))
	return srv.ListenAndServe(p.hostURL, handler)
}

func buildHandler(p *serverParameters, logger *zap.Logger, reg *prometheus.Registry) (http.Handler, func(), error) {
	closeFn := func() {}
	var serverOpts []server.Option

	var store session.Store
	if p.redisURL != "" {
		redisStore, err := session.NewRedisStoreFromURL(p.redisURL, p.sessionTTL)
		if err != nil {
			return nil, nil, err
		}
		store = redisStore
		closeFn = func() { redisStore.Close() }
		serverOpts = append(serverOpts, server.WithHealthCheck(redisStore.Ping))
		logger.Info("using redis session store")
	} else {
		store = session.NewMemoryStore(p.sessionTTL)
		logger.Info("using in-memory session store")
	}

	transcripts, err := session_transcript.New(p.androidKeyHash, session_transcript.WithLogger(logger))
	if err != nil {
		return nil, nil, fmt.Errorf("invalid %s: %w", androidKeyHashFlagName, err)
	}

	signer, err := requestSigner(p)
	if err != nil {
		return nil, nil, err
	}
	logger.Info("request signer ready", zap.String("dnsName", signer.DNSName()))

	opts := []verifier.Option{
		verifier.WithLogger(logger),
		verifier.WithMetrics(verifier.NewMetrics(reg)),
		verifier.WithRequestSigner(signer),
	}

	if p.zkVerifierURL != "" {
		zk := zkverifier.New(p.zkVerifierURL, p.zkVerifierTimeout, zkverifier.WithLogger(logger))
		opts = append(opts, verifier.WithZKVerifier(zk, openid4vp.ZKSpec{
			SystemType:      p.zkSystemType,
			VerifierMessage: zkVerifierMessage,
		}))
	}

	if p.trustRoots != "" {
		roots, err := mdoc.LoadRootCertificates(p.trustRoots)
		if err != nil {
			return nil, nil, fmt.Errorf("invalid %s: %w", trustRootsFlagName, err)
		}
		opts = append(opts, verifier.WithVerifierOptions(mdoc.WithTrustAnchor(mdoc.CertPoolTrustAnchor{Roots: roots})))
	} else {
		logger.Warn("no trust roots configured, any temporally valid issuer certificate is accepted")
	}

	svc := verifier.New(store, transcripts, opts...)

	serverOpts = append(serverOpts,
		server.WithLogger(logger),
		server.WithGatherer(reg),
		server.WithAllowedOrigins(p.allowedOrigins...),
	)
	return server.NewServer(svc, serverOpts...).Handler(), closeFn, nil
}

func requestSigner(p *serverParameters) (*cryptoroot.RequestSigner, error) {
	if p.requestSigningKey != "" {
		return cryptoroot.LoadRequestSigner(p.requestSigningKey, p.requestSigningCert)
	}

	host := "localhost"
	if p.baseURL != "" {
		u, err := url.Parse(p.baseURL)
		if err != nil || u.Hostname() == "" {
			return nil, fmt.Errorf("invalid %s: %q", baseURLFlagName, p.baseURL)
		}
		host = u.Hostname()
	}
	return cryptoroot.GenerateRequestSigner(host)
}

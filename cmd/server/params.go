package main

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

const (
	hostURLFlagName  = "host-url"
	hostURLEnvKey    = "MAV_HOST_URL"
	hostURLFlagUsage = "Listen address. Alternatively, this can be set with the following environment variable: " + hostURLEnvKey

	baseURLFlagName  = "base-url"
	baseURLEnvKey    = "MAV_BASE_URL"
	baseURLFlagUsage = "Public URL of the verifier. Its host is the DNS name of a generated request signing certificate. " +
		"Alternatively, this can be set with the following environment variable: " + baseURLEnvKey

	redisURLFlagName  = "redis-url"
	redisURLEnvKey    = "MAV_REDIS_URL"
	redisURLFlagUsage = "redis:// URL of the session store. Sessions are kept in memory when empty. " +
		"Alternatively, this can be set with the following environment variable: " + redisURLEnvKey

	sessionTTLFlagName  = "session-ttl"
	sessionTTLEnvKey    = "MAV_SESSION_TTL"
	sessionTTLFlagUsage = "Lifetime of a verification session. " +
		"Alternatively, this can be set with the following environment variable: " + sessionTTLEnvKey

	androidKeyHashFlagName  = "android-signing-key-hash"
	androidKeyHashEnvKey    = "MAV_ANDROID_SIGNING_KEY_HASH"
	androidKeyHashFlagUsage = "Base64 signing certificate hash of the Android app calling the verifier. " +
		"Alternatively, this can be set with the following environment variable: " + androidKeyHashEnvKey

	zkVerifierURLFlagName  = "zk-verifier-url"
	zkVerifierURLEnvKey    = "MAV_ZK_VERIFIER_URL"
	zkVerifierURLFlagUsage = "URL of the zero-knowledge proof verifier. ZK mode is disabled when empty. " +
		"Alternatively, this can be set with the following environment variable: " + zkVerifierURLEnvKey

	zkVerifierTimeoutFlagName  = "zk-verifier-timeout"
	zkVerifierTimeoutEnvKey    = "MAV_ZK_VERIFIER_TIMEOUT"
	zkVerifierTimeoutFlagUsage = "Timeout of a zero-knowledge verifier call. " +
		"Alternatively, this can be set with the following environment variable: " + zkVerifierTimeoutEnvKey

	zkSystemTypeFlagName  = "zk-system-type"
	zkSystemTypeEnvKey    = "MAV_ZK_SYSTEM_TYPE"
	zkSystemTypeFlagUsage = "zk_system_type requested in ZK mode. " +
		"Alternatively, this can be set with the following environment variable: " + zkSystemTypeEnvKey

	requestSigningKeyFlagName  = "request-signing-key"
	requestSigningKeyEnvKey    = "MAV_REQUEST_SIGNING_KEY"
	requestSigningKeyFlagUsage = "PEM EC private key signing openid4vp-v1-signed requests. " +
		"Alternatively, this can be set with the following environment variable: " + requestSigningKeyEnvKey

	requestSigningCertFlagName  = "request-signing-cert"
	requestSigningCertEnvKey    = "MAV_REQUEST_SIGNING_CERT"
	requestSigningCertFlagUsage = "PEM certificate chain of the request signing key, leaf first. " +
		"Alternatively, this can be set with the following environment variable: " + requestSigningCertEnvKey

	trustRootsFlagName  = "trust-roots"
	trustRootsEnvKey    = "MAV_TRUST_ROOTS"
	trustRootsFlagUsage = "PEM file or directory of IACA roots. Any temporally valid issuer certificate is accepted when empty. " +
		"Alternatively, this can be set with the following environment variable: " + trustRootsEnvKey

	allowedOriginsFlagName  = "allowed-origins"
	allowedOriginsEnvKey    = "MAV_ALLOWED_ORIGINS"
	allowedOriginsFlagUsage = "Comma separated CORS origins. " +
		"Alternatively, this can be set with the following environment variable: " + allowedOriginsEnvKey

	logLevelFlagName  = "log-level"
	logLevelEnvKey    = "MAV_LOG_LEVEL"
	logLevelFlagUsage = "Log level: debug, info, warn or error. " +
		"Alternatively, this can be set with the following environment variable: " + logLevelEnvKey
)

const (
	defaultHostURL           = ":8080"
	defaultSessionTTL        = 5 * time.Minute
	defaultZKVerifierTimeout = 10 * time.Second
	defaultZKSystemType      = "longfellow-libzk-v1"
	defaultLogLevel          = "info"
)

type serverParameters struct {
	hostURL            string
	baseURL            string
	redisURL           string
	sessionTTL         time.Duration
	androidKeyHash     string
	zkVerifierURL      string
	zkVerifierTimeout  time.Duration
	zkSystemType       string
	requestSigningKey  string
	requestSigningCert string
	trustRoots         string
	allowedOrigins     []string
	logLevel           string
}

func createFlags(startCmd *cobra.Command) {
	startCmd.Flags().String(hostURLFlagName, "", hostURLFlagUsage)
	startCmd.Flags().String(baseURLFlagName, "", baseURLFlagUsage)
	startCmd.Flags().String(redisURLFlagName, "", redisURLFlagUsage)
	startCmd.Flags().String(sessionTTLFlagName, "", sessionTTLFlagUsage)
	startCmd.Flags().String(androidKeyHashFlagName, "", androidKeyHashFlagUsage)
	startCmd.Flags().String(zkVerifierURLFlagName, "", zkVerifierURLFlagUsage)
	startCmd.Flags().String(zkVerifierTimeoutFlagName, "", zkVerifierTimeoutFlagUsage)
	startCmd.Flags().String(zkSystemTypeFlagName, "", zkSystemTypeFlagUsage)
	startCmd.Flags().String(requestSigningKeyFlagName, "", requestSigningKeyFlagUsage)
	startCmd.Flags().String(requestSigningCertFlagName, "", requestSigningCertFlagUsage)
	startCmd.Flags().String(trustRootsFlagName, "", trustRootsFlagUsage)
	startCmd.Flags().String(allowedOriginsFlagName, "", allowedOriginsFlagUsage)
	startCmd.Flags().String(logLevelFlagName, "", logLevelFlagUsage)
}

func getServerParameters(cmd *cobra.Command) (*serverParameters, error) {
	p := &serverParameters{}

	var err error
	for _, v := range []struct {
		dst      *string
		flagName string
		envKey   string
		def      string
	}{
		{&p.hostURL, hostURLFlagName, hostURLEnvKey, defaultHostURL},
		{&p.baseURL, baseURLFlagName, baseURLEnvKey, ""},
		{&p.redisURL, redisURLFlagName, redisURLEnvKey, ""},
		{&p.androidKeyHash, androidKeyHashFlagName, androidKeyHashEnvKey, ""},
		{&p.zkVerifierURL, zkVerifierURLFlagName, zkVerifierURLEnvKey, ""},
		{&p.zkSystemType, zkSystemTypeFlagName, zkSystemTypeEnvKey, defaultZKSystemType},
		{&p.requestSigningKey, requestSigningKeyFlagName, requestSigningKeyEnvKey, ""},
		{&p.requestSigningCert, requestSigningCertFlagName, requestSigningCertEnvKey, ""},
		{&p.trustRoots, trustRootsFlagName, trustRootsEnvKey, ""},
		{&p.logLevel, logLevelFlagName, logLevelEnvKey, defaultLogLevel},
	} {
		*v.dst, err = getUserSetVar(cmd, v.flagName, v.envKey)
		if err != nil {
			return nil, err
		}
		if *v.dst == "" {
			*v.dst = v.def
		}
	}

	p.sessionTTL, err = getDuration(cmd, sessionTTLFlagName, sessionTTLEnvKey, defaultSessionTTL)
	if err != nil {
		return nil, err
	}
	p.zkVerifierTimeout, err = getDuration(cmd, zkVerifierTimeoutFlagName, zkVerifierTimeoutEnvKey, defaultZKVerifierTimeout)
	if err != nil {
		return nil, err
	}

	origins, err := getUserSetVar(cmd, allowedOriginsFlagName, allowedOriginsEnvKey)
	if err != nil {
		return nil, err
	}
	p.allowedOrigins = splitList(origins)
	if len(p.allowedOrigins) == 0 {
		p.allowedOrigins = []string{"*"}
	}

	if (p.requestSigningKey == "") != (p.requestSigningCert == "") {
		return nil, fmt.Errorf("%s and %s must be set together", requestSigningKeyFlagName, requestSigningCertFlagName)
	}
	return p, nil
}

// getUserSetVar returns the flag value when set, the environment variable
// otherwise. Every parameter is optional.
func getUserSetVar(cmd *cobra.Command, flagName, envKey string) (string, error) {
	if cmd.Flags().Changed(flagName) {
		value, err := cmd.Flags().GetString(flagName)
		if err != nil {
			return "", fmt.Errorf(flagName+" flag not found: %s", err)
		}
		if value == "" {
			return "", fmt.Errorf("%s value is empty", flagName)
		}
		return value, nil
	}
	return os.Getenv(envKey), nil
}

func getDuration(cmd *cobra.Command, flagName, envKey string, def time.Duration) (time.Duration, error) {
	s, err := getUserSetVar(cmd, flagName, envKey)
	if err != nil {
		return 0, err
	}
	if s == "" {
		return def, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", flagName, err)
	}
	if d <= 0 {
		return 0, errors.New(flagName + " must be positive")
	}
	return d, nil
}

func splitList(s string) []string {
	var out []string
	for _, v := range strings.Split(s, ",") {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}

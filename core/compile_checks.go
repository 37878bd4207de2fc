package core

import glog "github.com/goliatone/go-logger/glog"

var (
	_ CredentialService         = (*Service)(nil)
	_ TokenRefresher            = (TokenRefresherFunc)(nil)
	_ ClientCredentialsResolver = (StaticClientCredentials)(nil)
	_ CredentialCodec           = JSONCredentialCodec{}

	_ Logger         = glog.Nop()
	_ LoggerProvider = glog.ProviderFromLogger(glog.Nop())
)

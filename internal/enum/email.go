package enum

type EmailProvider string

const (
	EmailProviderGeneric EmailProvider = "generic"
	EmailProviderGoogle  EmailProvider = "google"
	EmailProviderOutlook EmailProvider = "outlook"
)

func (e EmailProvider) String() string {
	return string(e)
}

type EmailSecurity string

const (
	EmailSecurityNone EmailSecurity = "none"
	EmailSecurityTLS  EmailSecurity = "tls"
)

func (e EmailSecurity) String() string {
	return string(e)
}

type ConnectionStatus string

const (
	ConnectionActive    ConnectionStatus = "active"
	ConnectionNotActive ConnectionStatus = "not_active"
)

func (e ConnectionStatus) String() string {
	return string(e)
}

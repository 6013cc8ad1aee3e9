package notifications

import "sync/atomic"

// providerOverride lets tests and alternative transports replace SMTP
// process-wide. SubmissionNotifier consults it only when no provider was
// pinned with WithProvider.
var providerOverride atomic.Pointer[providerHolder]

type providerHolder struct {
	p EmailProvider
}

// SetEmailProvider installs p for every notifier; nil restores SMTP from config.
func SetEmailProvider(p EmailProvider) {
	if p == nil {
		providerOverride.Store(nil)
		return
	}
	providerOverride.Store(&providerHolder{p: p})
}

// GetEmailProvider returns the installed override, or nil.
func GetEmailProvider() EmailProvider {
	if h := providerOverride.Load(); h != nil {
		return h.p
	}
	return nil
}

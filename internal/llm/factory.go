package llm

import "context"

// Factory resolves which client a run uses: a caller-supplied credential
// wins, otherwise the process-wide default built from configuration.
type Factory struct {
	defaultClient *GroqClient
	opts          []Option
}

func NewFactory(defaultKey string, opts ...Option) *Factory {
	f := &Factory{opts: opts}
	if defaultKey != "" {
		f.defaultClient = NewGroqClient(defaultKey, opts...)
	}
	return f
}

func (f *Factory) Client(credential string) (Client, error) {
	if credential != "" {
		return NewGroqClient(credential, f.opts...), nil
	}
	if f.defaultClient == nil {
		return nil, ErrMissingCredential
	}
	return f.defaultClient, nil
}

// HasDefault reports whether a process-wide key is configured.
func (f *Factory) HasDefault() bool {
	return f.defaultClient != nil
}

// ValidateKey checks credential against the provider without touching the
// default client.
func (f *Factory) ValidateKey(ctx context.Context, credential string) error {
	if credential == "" {
		return ErrMissingCredential
	}
	return NewGroqClient(credential, f.opts...).ValidateKey(ctx)
}

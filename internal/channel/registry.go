package channel

import (
	"fmt"
	"sync"
)

// Registry holds all registered channel adapters and provides typed
// accessors for their optional capabilities. Callers depend on the
// capability interfaces, never on a concrete adapter.
type Registry struct {
	mu       sync.RWMutex
	adapters map[ChannelType]Adapter
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		adapters: map[ChannelType]Adapter{},
	}
}

// Register adds an adapter to the registry.
func (r *Registry) Register(adapter Adapter) error {
	if adapter == nil {
		return fmt.Errorf("adapter is nil")
	}
	ct := normalizeChannelType(adapter.Type().String())
	if ct == "" {
		return fmt.Errorf("channel type is required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.adapters[ct]; exists {
		return fmt.Errorf("channel type already registered: %s", ct)
	}
	r.adapters[ct] = adapter
	return nil
}

// MustRegister calls Register and panics on error.
func (r *Registry) MustRegister(adapter Adapter) {
	if err := r.Register(adapter); err != nil {
		panic(err)
	}
}

// Get returns the adapter for the given channel type.
func (r *Registry) Get(channelType ChannelType) (Adapter, bool) {
	ct := normalizeChannelType(channelType.String())
	r.mu.RLock()
	defer r.mu.RUnlock()
	adapter, ok := r.adapters[ct]
	return adapter, ok
}

// Types returns all registered channel types.
func (r *Registry) Types() []ChannelType {
	r.mu.RLock()
	defer r.mu.RUnlock()
	items := make([]ChannelType, 0, len(r.adapters))
	for ct := range r.adapters {
		items = append(items, ct)
	}
	return items
}

// ListDescriptors returns descriptors for all registered channel types.
func (r *Registry) ListDescriptors() []Descriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()
	items := make([]Descriptor, 0, len(r.adapters))
	for _, a := range r.adapters {
		items = append(items, a.Descriptor())
	}
	return items
}

// ParseChannelType validates and normalizes a raw string into a registered
// ChannelType.
func (r *Registry) ParseChannelType(raw string) (ChannelType, error) {
	ct := normalizeChannelType(raw)
	if ct == "" {
		return "", fmt.Errorf("%w: %q", ErrUnsupportedChannel, raw)
	}
	if _, ok := r.Get(ct); !ok {
		return "", fmt.Errorf("%w: %q", ErrUnsupportedChannel, raw)
	}
	return ct, nil
}

// GetSender returns the Sender for the given channel type, or false if the
// adapter cannot send.
func (r *Registry) GetSender(channelType ChannelType) (Sender, bool) {
	adapter, ok := r.Get(channelType)
	if !ok {
		return nil, false
	}
	sender, ok := adapter.(Sender)
	return sender, ok
}

// GetHistoryProvider returns the HistoryProvider for the given channel type.
func (r *Registry) GetHistoryProvider(channelType ChannelType) (HistoryProvider, bool) {
	adapter, ok := r.Get(channelType)
	if !ok {
		return nil, false
	}
	provider, ok := adapter.(HistoryProvider)
	return provider, ok
}

// GetRecipientResolver returns the RecipientResolver if the adapter needs
// recipient references resolved before sending.
func (r *Registry) GetRecipientResolver(channelType ChannelType) (RecipientResolver, bool) {
	adapter, ok := r.Get(channelType)
	if !ok {
		return nil, false
	}
	resolver, ok := adapter.(RecipientResolver)
	return resolver, ok
}

// GetAuthorizer returns the Authorizer for OAuth-based channels.
func (r *Registry) GetAuthorizer(channelType ChannelType) (Authorizer, bool) {
	adapter, ok := r.Get(channelType)
	if !ok {
		return nil, false
	}
	authorizer, ok := adapter.(Authorizer)
	return authorizer, ok
}

// GetMediaLister returns the MediaLister when the channel exposes the
// connected account's posts.
func (r *Registry) GetMediaLister(channelType ChannelType) (MediaLister, bool) {
	adapter, ok := r.Get(channelType)
	if !ok {
		return nil, false
	}
	lister, ok := adapter.(MediaLister)
	return lister, ok
}

// GetConversationLister returns the ConversationLister when supported.
func (r *Registry) GetConversationLister(channelType ChannelType) (ConversationLister, bool) {
	adapter, ok := r.Get(channelType)
	if !ok {
		return nil, false
	}
	lister, ok := adapter.(ConversationLister)
	return lister, ok
}

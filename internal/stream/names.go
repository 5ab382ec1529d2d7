package stream

import "strings"

const (
	placeholderStore     = "{storeId}"
	placeholderFromStore = "{fromStoreId}"
	placeholderToStore   = "{toStoreId}"
)

// Names renders stream names from templates.
type Names struct {
	StoreToCentralTmpl   string
	CentralToStoreTmpl   string
	CentralBroadcastName string
	StoreToStoreTmpl     string
	StoreBroadcastTmpl   string
}

func (n Names) StoreToCentral(storeID string) string {
	return strings.ReplaceAll(n.StoreToCentralTmpl, placeholderStore, storeID)
}

func (n Names) CentralToStore(storeID string) string {
	return strings.ReplaceAll(n.CentralToStoreTmpl, placeholderStore, storeID)
}

func (n Names) CentralBroadcast() string { return n.CentralBroadcastName }

func (n Names) StoreToStore(fromStoreID, toStoreID string) string {
	s := strings.ReplaceAll(n.StoreToStoreTmpl, placeholderFromStore, fromStoreID)
	return strings.ReplaceAll(s, placeholderToStore, toStoreID)
}

func (n Names) StoreBroadcast(storeID string) string {
	return strings.ReplaceAll(n.StoreBroadcastTmpl, placeholderStore, storeID)
}

// CentralInbound lists the streams the central node consumes.
func (n Names) CentralInbound(stores []string) []string {
	out := make([]string, 0, len(stores))
	for _, s := range stores {
		out = append(out, n.StoreToCentral(s))
	}
	return out
}

// StoreInbound lists the streams a store node consumes.
func (n Names) StoreInbound(storeID string) []string {
	return []string{
		n.CentralToStore(storeID),
		n.StoreToStore(storeID, storeID),
		n.CentralBroadcast(),
	}
}

package cache

import "fmt"

// GenerateKey joins prefix and id into a namespaced key ("snapshot:<fp>").
func GenerateKey(prefix string, id string) string {
	if prefix == "" {
		return id
	}
	return fmt.Sprintf("%s:%s", prefix, id)
}

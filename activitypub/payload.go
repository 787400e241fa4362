package activitypub

import (
	"encoding/json"
	"time"

	"github.com/deemkeen/mammut/domain"
)

// Activity represents a generic ActivityPub activity
type Activity struct {
	Context interface{} `json:"@context"`
	ID      string      `json:"id"`
	Type    string      `json:"type"`
	Actor   string      `json:"actor"`
	Object  interface{} `json:"object"`
	To      interface{} `json:"to"`
	Cc      interface{} `json:"cc"`
}

// Inbound bundles everything a handler needs about one incoming
// activity: the raw body for per-handler re-parsing, the generic
// envelope, the target local account and the (possibly ephemeral)
// sending remote account.
type Inbound struct {
	Body       []byte
	Activity   Activity
	ObjectType string
	Local      *domain.Account
	Remote     *domain.RemoteAccount
}

// ObjectMap returns the embedded object as a map, or nil when the
// object is a bare URI or absent.
func (in *Inbound) ObjectMap() map[string]interface{} {
	if m, ok := in.Activity.Object.(map[string]interface{}); ok {
		return m
	}
	return nil
}

// ObjectURI extracts the object's id whether the object is a bare URI
// string or an embedded document.
func (in *Inbound) ObjectURI() string {
	return refURI(in.Activity.Object)
}

// refURI resolves a reference that may be a URI string or an embedded
// object carrying an id.
func refURI(v interface{}) string {
	switch obj := v.(type) {
	case string:
		return obj
	case map[string]interface{}:
		if id, ok := obj["id"].(string); ok {
			return id
		}
	}
	return ""
}

// asStringList flattens a to/cc style addressing value (string, array
// of strings, or absent) into a slice.
func asStringList(v interface{}) []string {
	switch val := v.(type) {
	case string:
		return []string{val}
	case []interface{}:
		var out []string
		for _, item := range val {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

// Audience merges the activity's and the embedded object's to+cc sets.
func (in *Inbound) Audience() []string {
	addrs := append(asStringList(in.Activity.To), asStringList(in.Activity.Cc)...)
	if obj := in.ObjectMap(); obj != nil {
		addrs = append(addrs, asStringList(obj["to"])...)
		addrs = append(addrs, asStringList(obj["cc"])...)
	}
	return addrs
}

// parsePublished parses an ActivityStreams timestamp, falling back to
// now on absence or parse failure.
func parsePublished(v interface{}) time.Time {
	if s, ok := v.(string); ok {
		if t, err := time.Parse(time.RFC3339, s); err == nil {
			return t
		}
	}
	return time.Now()
}

// quoteRefURI extracts a quote reference per the conventions used in
// the wild, checked in precedence order.
func quoteRefURI(obj map[string]interface{}) string {
	for _, field := range []string{"quoteUrl", "quote", "_misskey_quote", "quoteUri"} {
		if uri := refURI(obj[field]); uri != "" {
			return uri
		}
	}
	return ""
}

// mentionURLs collects the hrefs of Mention tags on an object.
func mentionURLs(obj map[string]interface{}) []string {
	tags, ok := obj["tag"].([]interface{})
	if !ok {
		return nil
	}
	var urls []string
	for _, t := range tags {
		tag, ok := t.(map[string]interface{})
		if !ok {
			continue
		}
		if tagType, _ := tag["type"].(string); tagType != "Mention" {
			continue
		}
		if href, ok := tag["href"].(string); ok && href != "" {
			urls = append(urls, href)
		}
	}
	return urls
}

// pollOptionsOf reads Question options from oneOf/anyOf.
func pollOptionsOf(obj map[string]interface{}) []domain.PollOption {
	raw, ok := obj["oneOf"].([]interface{})
	if !ok {
		raw, ok = obj["anyOf"].([]interface{})
		if !ok {
			return nil
		}
	}
	var options []domain.PollOption
	for _, o := range raw {
		opt, ok := o.(map[string]interface{})
		if !ok {
			continue
		}
		name, _ := opt["name"].(string)
		if name == "" {
			continue
		}
		count := 0
		if replies, ok := opt["replies"].(map[string]interface{}); ok {
			if total, ok := replies["totalItems"].(float64); ok {
				count = int(total)
			}
		}
		options = append(options, domain.PollOption{Name: name, Count: count})
	}
	return options
}

// pollEnd reads a Question's closing time from endTime or closed.
func pollEnd(obj map[string]interface{}) *time.Time {
	for _, field := range []string{"endTime", "closed"} {
		if s, ok := obj[field].(string); ok {
			if t, err := time.Parse(time.RFC3339, s); err == nil {
				return &t
			}
		}
	}
	return nil
}

// reMarshal round-trips an embedded object back to JSON for the cached
// representation.
func reMarshal(v interface{}) string {
	b, err := json.Marshal(v)
	if err != nil {
		return ""
	}
	return string(b)
}

package web

import (
	"encoding/json"
	"fmt"

	"github.com/deemkeen/mammut/db"
	"github.com/deemkeen/mammut/util"
)

// GetWebfinger resolves a local handle to its JRD document.
func GetWebfinger(database *db.DB, user string, conf *util.AppConfig) (error, string) {
	err, acc := database.ReadAccByUsername(user)
	if err != nil {
		return err, GetWebFingerNotFound()
	}

	domain := conf.Domain()
	jrd := map[string]interface{}{
		"subject": fmt.Sprintf("acct:%s@%s", acc.Username, domain),
		"links": []map[string]interface{}{
			{
				"rel":  "self",
				"type": "application/activity+json",
				"href": acc.ActorURI(domain),
			},
		},
	}

	data, err := json.Marshal(jrd)
	if err != nil {
		return err, GetWebFingerNotFound()
	}
	return nil, string(data)
}

func GetWebFingerNotFound() string {
	return `{"detail":"Not Found"}`
}

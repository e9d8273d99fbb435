package i18n

import (
	"strings"
	"sync"

	log "github.com/sirupsen/logrus"
	"gopkg.in/yaml.v2"

	"github.com/iamwavecut/warden/resources"
)

const translationsFile = "i18n/translations.yml"

var state = struct {
	once sync.Once
	// key -> LOCALE -> text
	dict map[string]map[string]string
}{}

func load() {
	state.dict = map[string]map[string]string{}
	content, err := resources.FS.ReadFile(translationsFile)
	if err != nil {
		log.WithField("error", err.Error()).Errorln("cant load i18n")
		return
	}
	if err := yaml.Unmarshal(content, &state.dict); err != nil {
		log.WithField("error", err.Error()).Errorln("cant unmarshal i18n")
	}
}

// Get returns the translation of key for lang. English texts are the keys themselves,
// and so is any missing translation.
func Get(key, lang string) string {
	if lang == "" || strings.EqualFold(lang, "en") {
		return key
	}
	state.once.Do(load)
	if res, ok := state.dict[key][strings.ToUpper(lang)]; ok && res != "" {
		return res
	}
	log.Tracef(`no %s translation for key "%s"`, lang, key)
	return key
}

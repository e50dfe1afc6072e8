package service

import (
	"sort"
	"strconv"

	"github.com/okian/roomsync/internal/domain/dealing"
	"github.com/okian/roomsync/internal/domain/model"
)

const defaultTopicType = "classic"

var topicCatalog = map[string][]string{
	"classic": {
		"How much you would enjoy it",
		"How scary it is",
		"How useful it is on a desert island",
		"How popular it is",
		"How expensive it is",
	},
	"food": {
		"How spicy it is",
		"How hard it is to cook",
		"How good it is for breakfast",
		"How much you would pay for it",
	},
	"animals": {
		"How strong it is",
		"How cute it is",
		"How dangerous it is",
		"How good it would be as a pet",
	},
}

func knownTopicType(t string) bool {
	_, ok := topicCatalog[t]
	return ok
}

// TopicTypes lists the built-in topic types.
func TopicTypes() []string {
	out := make([]string, 0, len(topicCatalog))
	for t := range topicCatalog {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

func defaultTopic(topicType string) *model.Topic {
	if !knownTopicType(topicType) {
		topicType = defaultTopicType
	}
	return &model.Topic{Type: topicType, Text: topicCatalog[topicType][0]}
}

// pickTopic chooses a prompt of topicType from seed, avoiding current when the
// type has more than one prompt. The same seed always picks the same prompt.
func pickTopic(topicType, current, seed string) *model.Topic {
	prompts := topicCatalog[topicType]
	i := dealing.GenerateDeterministicNumbers(1, 0, len(prompts)-1, seed)[0]
	if prompts[i] == current && len(prompts) > 1 {
		i = (i + 1) % len(prompts)
	}
	return &model.Topic{Type: topicType, Text: prompts[i]}
}

func topicSeed(room *model.Room) string {
	return room.ID + ":topic:" + strconv.FormatInt(room.StatusVersion, 10)
}

package api

import (
	"fmt"
	"math/rand"
	"strings"

	"github.com/google/uuid"
)

func newEntityID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}

// Word lists for generated display names, in the adjective-animal style of
// cloud hostname generators. Users can rename later.
var (
	nameAdjectives = []string{
		"amber", "brave", "calm", "dapper", "eager", "fancy", "gentle",
		"humble", "ivory", "jolly", "keen", "lively", "mellow", "noble",
		"opal", "proud", "quiet", "rapid", "sturdy", "tidy", "vivid",
		"witty",
	}
	nameAnimals = []string{
		"badger", "crane", "dingo", "falcon", "gecko", "heron", "ibis",
		"jackal", "koala", "lemur", "marmot", "newt", "otter", "panda",
		"quokka", "raven", "skink", "tapir", "urchin", "vole", "wombat",
	}
)

// generateName returns a random two-word display name.
func generateName() string {
	return fmt.Sprintf("%s-%s",
		nameAdjectives[rand.Intn(len(nameAdjectives))],
		nameAnimals[rand.Intn(len(nameAnimals))])
}

package mqtt

// TopicPrefix is the base of every dispatch topic.
const TopicPrefix = "graylogic/dispatch"

// Topics builds dispatch topic names.
//
//	graylogic/dispatch/action/{item}   finished action outcomes
//	graylogic/dispatch/state/{item}    item state (retained)
//	graylogic/dispatch/event/{phi}     PHI change events
//	graylogic/dispatch/status          online/offline (retained, LWT)
type Topics struct{}

func (Topics) ActionResult(itemID string) string { return TopicPrefix + "/action/" + itemID }
func (Topics) ItemState(itemID string) string    { return TopicPrefix + "/state/" + itemID }
func (Topics) PHIEvent(phiID string) string      { return TopicPrefix + "/event/" + phiID }
func (Topics) Status() string                    { return TopicPrefix + "/status" }

// All returns a filter matching one topic kind ("action", "state", "event")
// for every item or PHI.
func (Topics) All(kind string) string { return TopicPrefix + "/" + kind + "/+" }

package chat

// MergeByID applies incoming to list: an existing entry with the same id is
// replaced via Message.Merge, a pending local entry with the same clientTag
// is reconciled in place (the server echo adopts the slot, preventing a
// duplicate insertion), and anything else is appended. Never produces two
// entries for one id.
func MergeByID(list []Message, incoming Message) []Message {
	for i := range list {
		if incoming.ID != "" && list[i].ID == incoming.ID {
			merged := list[i].Merge(incoming)
			merged.DeliveryState = deliveredState(list[i], incoming)
			list[i] = merged
			return list
		}
	}
	if incoming.ClientTag != nil {
		for i := range list {
			if list[i].DeliveryState == DeliveryPending &&
				list[i].ClientTag != nil && *list[i].ClientTag == *incoming.ClientTag {
				incoming.DeliveryState = DeliverySent
				list[i] = incoming
				return list
			}
		}
	}
	return append(list, incoming)
}

func deliveredState(existing, incoming Message) DeliveryState {
	if incoming.DeliveryState != "" {
		return incoming.DeliveryState
	}
	if existing.DeliveryState == DeliveryPending {
		return DeliverySent
	}
	return existing.DeliveryState
}

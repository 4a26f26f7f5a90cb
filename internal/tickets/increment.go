package tickets

// MergeProducts flattens a tab's full ticket history, open and closed, into
// the cumulative already-sent product view. Amounts for a repeated product id
// are summed across tickets, the first occurrence fixes the line's slot and
// name, and the prepared/thaw flags are OR-ed.
func MergeProducts(history []Ticket) ProductList {
	if len(history) == 0 {
		return nil
	}

	var merged ProductList
	slotByID := make(map[string]int)
	for _, ticket := range history {
		for _, product := range ticket.Products {
			slot, seen := slotByID[product.ID]
			if !seen {
				slotByID[product.ID] = len(merged)
				merged = append(merged, product)
				continue
			}
			merged[slot].Amount += product.Amount
			merged[slot].Prepared = merged[slot].Prepared || product.Prepared
			merged[slot].ThawRequested = merged[slot].ThawRequested || product.ThawRequested
		}
	}
	return merged
}

// ComputeIncrement returns the preparation work a new request adds on top of
// what was already sent for the tab. Per product, the result carries the
// excess over the cumulative sent amount; products whose requested amount is
// unchanged or reduced are dropped entirely. An empty result means there is
// nothing new to prepare and no ticket should be created.
func ComputeIncrement(alreadySent ProductList, requested []Product) ProductList {
	if len(requested) == 0 {
		return nil
	}
	if sameComposition(alreadySent, requested) {
		return nil
	}

	sentAmounts := make(map[string]int64, len(alreadySent))
	for _, product := range alreadySent {
		sentAmounts[product.ID] += product.Amount
	}

	var increment ProductList
	for _, product := range requested {
		delta := product.Amount - sentAmounts[product.ID]
		if delta <= 0 {
			continue
		}
		line := product
		line.Amount = delta
		increment = append(increment, line)
	}
	return increment
}

// sameComposition reports whether the two product lists request the same ids
// with the same amounts, ignoring order. Guards against resubmission of an
// unchanged order.
func sameComposition(alreadySent ProductList, requested []Product) bool {
	if len(alreadySent) == 0 {
		return false
	}

	sentAmounts := make(map[string]int64, len(alreadySent))
	for _, product := range alreadySent {
		sentAmounts[product.ID] += product.Amount
	}
	requestedAmounts := make(map[string]int64, len(requested))
	for _, product := range requested {
		requestedAmounts[product.ID] += product.Amount
	}

	if len(sentAmounts) != len(requestedAmounts) {
		return false
	}
	for id, amount := range requestedAmounts {
		if sentAmounts[id] != amount {
			return false
		}
	}
	return true
}

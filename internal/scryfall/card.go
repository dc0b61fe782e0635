package scryfall

// Card is the subset of a Scryfall card object this service reads, both from
// the bulk export and from search results.
type Card struct {
	ID              string     `json:"id"`
	Name            string     `json:"name"`
	Set             string     `json:"set"`
	SetName         string     `json:"set_name"`
	CollectorNumber string     `json:"collector_number"`
	Rarity          string     `json:"rarity"`
	Games           []string   `json:"games"`
	Prices          Prices     `json:"prices"`
	ImageURIs       *ImageURIs `json:"image_uris,omitempty"`
	CardFaces       []CardFace `json:"card_faces,omitempty"`
}

// Prices holds market prices as decimal strings. Nil means no price.
type Prices struct {
	USD     *string `json:"usd"`
	USDFoil *string `json:"usd_foil"`
}

type ImageURIs struct {
	Normal  string `json:"normal"`
	ArtCrop string `json:"art_crop"`
}

type CardFace struct {
	Name      string     `json:"name"`
	ImageURIs *ImageURIs `json:"image_uris,omitempty"`
}

// AvailableIn reports whether the card is printed in the given medium
// ("paper", "arena", "mtgo").
func (c *Card) AvailableIn(medium string) bool {
	for _, g := range c.Games {
		if g == medium {
			return true
		}
	}
	return false
}

// Images returns the display images, falling back to the first face for
// multi-faced cards without top-level images.
func (c *Card) Images() ImageURIs {
	if c.ImageURIs != nil {
		return *c.ImageURIs
	}
	if len(c.CardFaces) > 0 && c.CardFaces[0].ImageURIs != nil {
		return *c.CardFaces[0].ImageURIs
	}
	return ImageURIs{}
}

type searchResponse struct {
	TotalCards int    `json:"total_cards"`
	HasMore    bool   `json:"has_more"`
	Data       []Card `json:"data"`
}

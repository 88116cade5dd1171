package extract

// Field is one target field of the extraction schema
type Field struct {
	Key         string
	Description string
}

// Schema is the ordered list of fields the model is asked to extract.
// The order is fixed and flows through to export column order.
type Schema []Field

// ContactSchema returns the canonical business-card schema
func ContactSchema() Schema {
	return Schema{
		{Key: "name", Description: "the person's full name as printed on the card"},
		{Key: "title", Description: "their job title or role"},
		{Key: "company", Description: "the company or organization name"},
		{Key: "phone", Description: "the primary phone number, exactly as printed"},
		{Key: "email", Description: "the email address"},
		{Key: "website", Description: "the website or URL"},
		{Key: "address", Description: "the full postal address"},
	}
}

// Record is the structured contact extracted from one card image. All
// fields except SourceImageID are optional; a field the model could not
// find is an empty string, never null.
type Record struct {
	SourceImageID string `json:"source_image_id"`
	Name          string `json:"name"`
	Title         string `json:"title"`
	Company       string `json:"company"`
	Phone         string `json:"phone"`
	Email         string `json:"email"`
	Website       string `json:"website"`
	Address       string `json:"address"`
}

// Value returns the record value for a schema key
func (r *Record) Value(key string) string {
	switch key {
	case "name":
		return r.Name
	case "title":
		return r.Title
	case "company":
		return r.Company
	case "phone":
		return r.Phone
	case "email":
		return r.Email
	case "website":
		return r.Website
	case "address":
		return r.Address
	}
	return ""
}

func (r *Record) set(key, value string) {
	switch key {
	case "name":
		r.Name = value
	case "title":
		r.Title = value
	case "company":
		r.Company = value
	case "phone":
		r.Phone = value
	case "email":
		r.Email = value
	case "website":
		r.Website = value
	case "address":
		r.Address = value
	}
}

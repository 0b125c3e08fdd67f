package domain

// FeaturedTopics are the conditions offered for one-click topic queries.
var FeaturedTopics = []string{
	"Alzheimer's Disease",
	"Parkinson's Disease",
	"Type 2 Diabetes",
	"Hypertension",
	"Asthma",
	"Multiple Sclerosis",
	"Rheumatoid Arthritis",
}

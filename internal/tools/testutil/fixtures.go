package testutil

// CTISchema is a trimmed OpenCTI style schema. Targets and Uses are
// relationship types found through their endpoint fields, Indicates only
// through its directive, and Orphan has endpoint fields that resolve to no
// entity.
const CTISchema = `
directive @relationship(type: String, related_types: [String!]) on OBJECT

interface BasicObject {
  id: ID!
  entity_type: String!
}

interface StixObject {
  id: ID!
  standard_id: String!
}

interface StixCoreObject {
  id: ID!
  created_at: String
}

interface StixDomainObject {
  id: ID!
  name: String!
}

interface StixCyberObservable {
  id: ID!
  observable_value: String
}

enum MalwareKind {
  backdoor
  ransomware
}

type Campaign implements BasicObject & StixObject & StixCoreObject & StixDomainObject {
  id: ID!
  entity_type: String!
  standard_id: String!
  created_at: String
  name: String!
  objective: String
}

type Malware implements BasicObject & StixObject & StixCoreObject & StixDomainObject {
  id: ID!
  entity_type: String!
  standard_id: String!
  created_at: String
  name: String!
  is_family: Boolean
  kind: MalwareKind
  aliases(first: Int): [String]
}

type AttackPattern implements BasicObject & StixObject & StixCoreObject & StixDomainObject {
  id: ID!
  entity_type: String!
  standard_id: String!
  created_at: String
  name: String!
  x_mitre_id: String
}

type IPv4Addr implements BasicObject & StixObject & StixCoreObject & StixCyberObservable {
  id: ID!
  entity_type: String!
  standard_id: String!
  created_at: String
  observable_value: String
  value: String
}

union Threat = Malware | AttackPattern

type Targets {
  id: ID!
  source: Campaign
  target: Malware
}

type Uses {
  id: ID!
  from: Campaign
  to: Threat
}

type Orphan {
  id: ID!
  source: String
  target: String
}

type Indicates @relationship(type: "indicates", related_types: ["IPv4Addr", "Malware"]) {
  id: ID!
  confidence: Int
}

type PageInfo {
  hasNextPage: Boolean!
}

type CampaignEdge {
  cursor: String!
  node: Campaign!
}

type CampaignConnection {
  edges: [CampaignEdge!]!
  pageInfo: PageInfo!
}

type MalwareEdge {
  cursor: String!
  node: Malware!
}

type MalwareConnection {
  edges: [MalwareEdge!]!
  pageInfo: PageInfo!
}

type Query {
  campaign(id: String!): Campaign
  campaigns(first: Int, search: String): CampaignConnection
  malware(id: String!): Malware
  malwares(first: Int, search: String): MalwareConnection
  attackPattern(id: String): AttackPattern
  stixCoreObjects(search: String, first: Int): [StixCoreObject]
}
`

// MinimalSchema has two entities joined by one relationship type.
const MinimalSchema = `
type Campaign {
  id: ID!
  name: String
}

type Malware {
  id: ID!
  name: String
}

type Targets {
  source: Campaign
  target: Malware
}

type Query {
  campaign(id: String!): Campaign
}
`

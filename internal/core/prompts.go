package core

import "fmt"

func flowchartAnalysisPrompt(code string) string {
	return fmt.Sprintf(`You are a code analysis expert. Analyze the following code and explain its execution flow. If the input is not valid code, respond with "INVALID_CODE".

When explaining valid code:
- Start each step with "The code", "Then it" or a similar natural phrase
- Use present tense to describe what each part does
- Keep it conversational and easy to understand
- Focus on the main logic flow
- Avoid technical jargon unless necessary
- Number each step

Example style:
1. The code begins by setting up the initial configuration
2. Then it loads the necessary data from storage
3. Next, it processes each item in the collection
4. Finally, it saves the results back to storage

Code to analyze:

%s`, code)
}

func flowchartMarkupPrompt(steps string) string {
	return fmt.Sprintf(`Convert these code execution steps into a mermaid.js flowchart. Follow these requirements exactly:

1. Use simple node IDs (A, B, C, etc.)
2. Pick the shape from the operation:
   - Database operations (create/insert/select): cylinder [(Text)]
   - Processes and transformations: stadium ([Text])
   - Decisions and conditions: diamond {Text}
   - Start and end: subroutine [[Text]]
3. Keep node text short (at most 4-5 words)
4. Use only --> for connections
5. Put each node and each connection on its own line
6. No special characters in node text

Example:
A[[Start]]
A --> B[(Create Database)]
B --> C([Process Data])
C --> D{Check Status}
D -->|Yes| E([Continue])
D -->|No| F([Stop])
F --> Z[[End]]

Rules for this flowchart:
- The first node must be A[[Start]]
- The last node must be Z[[End]]
- No styling or class definitions

Steps to convert:

%s

Output only the node definitions and connections, nothing else.`, steps)
}

func erAnalysisPrompt(queries string) string {
	return fmt.Sprintf(`You are a database expert. Analyze these SQL CREATE TABLE queries and explain the entity relationships. If the input is not valid SQL, respond with "INVALID_SQL".

For valid SQL:
1. List each table and its primary key
2. List foreign key relationships between tables
3. Describe the relationship types (one-to-one, one-to-many, many-to-many)
4. Note any indexes or constraints
5. List important columns and their data types

Format the response in clear sections with headings.

SQL queries to analyze:

%s`, queries)
}

func erMarkupPrompt(relations string) string {
	return fmt.Sprintf(`Convert this database analysis into a mermaid.js ER diagram. Follow these requirements exactly:

1. Start with "erDiagram"
2. List all relationships first, one per line
3. Then list all entities with their attributes
4. Use these relationship types:
   - ||--o{ for one-to-many
   - }o--o{ for many-to-many
   - ||--|| for one-to-one
5. Format:
   - Relationships: ENTITY1 ||--o{ ENTITY2 : "describes"
   - Entities:
     ENTITY {
       type field PK "Primary Key"
       type field FK "Foreign Key"
       type field
     }

Example:
erDiagram
    CUSTOMER ||--o{ ORDER : "places"
    ORDER ||--o{ ORDER_ITEM : "contains"
    CUSTOMER {
        string id PK "Primary Key"
        string name
    }
    ORDER {
        int id PK "Primary Key"
        string customer_id FK "References Customer"
    }

Rules:
- Use underscores for multi-word names
- No special characters in names
- No styling or class definitions

Analysis to convert:

%s

Output only the mermaid.js code, nothing else.`, relations)
}

func architectureAnalysisPrompt(description string) string {
	return fmt.Sprintf(`You are a software architect. Analyze this project description and provide a detailed architecture analysis. If the input is unclear or insufficient, respond with "INVALID_DESCRIPTION".

For valid descriptions:
1. Identify core components and their purposes
2. Analyze the technology stack and frameworks
3. Describe data flow and interactions
4. List external integrations
5. Note infrastructure requirements
6. Identify scalability considerations

Format the response in clear sections with headings.

Project description:

%s`, description)
}

func architectureMarkupPrompt(analysis string) string {
	return fmt.Sprintf(`Convert this architecture analysis into a mermaid.js flowchart. Start with exactly "flowchart TD" and follow this format:

flowchart TD
    subgraph "Frontend"
        client["fa:fa-desktop Client App"]
    end
    subgraph "Backend"
        api["fa:fa-api API Service"]
        db["fa:fa-database Database"]
    end
    client --> api
    api --> db

Rules:
1. The first line must be "flowchart TD"
2. Quote every subgraph name: subgraph "Name"
3. Quote every node label: nodeId["label"]
4. Use only --> for connections
5. Icons:
   - fa:fa-desktop for UI and frontend
   - fa:fa-api for APIs
   - fa:fa-server for services
   - fa:fa-database for databases
   - fa:fa-cloud for cloud services
   - fa:fa-lock for security
   - fa:fa-cube for containers

Analysis to convert:

%s

Remember to start with "flowchart TD" on the first line.`, analysis)
}
